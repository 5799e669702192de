package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero_max_entries", Config{MaxSizeBytes: 1024, DefaultTTL: time.Minute}},
		{"zero_max_size", Config{MaxEntries: 10, DefaultTTL: time.Minute}},
		{"zero_ttl", Config{MaxEntries: 10, MaxSizeBytes: 1024}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSetAndGet_RoundTrip(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	want := reply{Text: "once upon a time", Model: "narrator-v2"}
	require.NoError(t, Set(s, "k", want, time.Minute))

	got, ok := Get[reply](s, "k")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = Get[reply](s, "missing")
	assert.False(t, ok)

	st := s.GetStats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 0.5, st.HitRate)
	assert.Equal(t, 0.5, st.MissRate)
}

func TestSetAndGet_CompressedRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 64
	s := newTestService(t, cfg)

	want := reply{Text: strings.Repeat("a long generated story segment ", 100), Model: "narrator-v2"}
	require.NoError(t, Set(s, "big", want, time.Minute))

	s.mu.Lock()
	entry := s.entries["big"]
	s.mu.Unlock()
	require.NotNil(t, entry)
	assert.True(t, entry.Compressed, "payload above threshold is stored compressed")
	assert.Equal(t, len(entry.Data), entry.SizeBytes, "size reflects the stored representation")

	got, ok := Get[reply](s, "big")
	require.True(t, ok)
	assert.Equal(t, want, got, "decompression is transparent")
}

func TestSet_ZeroThresholdUsesDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 0
	s := newTestService(t, cfg)

	// Below the default threshold: stored raw, not compress-everything.
	require.NoError(t, Set(s, "small", "short value", time.Minute))
	// Above it: compressed.
	require.NoError(t, Set(s, "large", strings.Repeat("generated paragraph ", 200), time.Minute))

	s.mu.Lock()
	small, large := s.entries["small"], s.entries["large"]
	s.mu.Unlock()
	require.NotNil(t, small)
	require.NotNil(t, large)
	assert.False(t, small.Compressed)
	assert.True(t, large.Compressed)
}

func TestSet_DefaultTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Hour
	s := newTestService(t, cfg)

	require.NoError(t, Set(s, "k", "v", 0))

	s.mu.Lock()
	entry := s.entries["k"]
	s.mu.Unlock()
	require.NotNil(t, entry)
	assert.WithinDuration(t, entry.CreatedAt.Add(time.Hour), entry.ExpiresAt, time.Second)
}

func TestGet_TTLExpiry(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "k", "v", 50*time.Millisecond))

	got, ok := Get[string](s, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(100 * time.Millisecond)

	_, ok = Get[string](s, "k")
	assert.False(t, ok)
	assert.Zero(t, s.GetStats().Entries, "lazy expiry removes the entry")
}

func TestEviction_LRUOnInsert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	s := newTestService(t, cfg)

	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		require.NoError(t, Set(s, k, "v-"+k, time.Minute))
		// Distinct last-access timestamps keep the LRU order unambiguous.
		time.Sleep(2 * time.Millisecond)
	}

	_, ok := Get[string](s, "k1")
	assert.False(t, ok, "least-recently-accessed entry was evicted")
	for _, k := range []string{"k2", "k3", "k4"} {
		_, ok := Get[string](s, k)
		assert.True(t, ok, "%s should survive", k)
	}
}

func TestEviction_AccessRefreshesRecency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	s := newTestService(t, cfg)

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, Set(s, k, "v", time.Minute))
		time.Sleep(2 * time.Millisecond)
	}

	_, ok := Get[string](s, "k1")
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, Set(s, "k4", "v", time.Minute))

	_, ok = Get[string](s, "k2")
	assert.False(t, ok, "k2 became the least recently accessed")
	_, ok = Get[string](s, "k1")
	assert.True(t, ok, "the refreshed entry survives")
}

func TestEviction_SizeBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 256
	cfg.CompressionThreshold = -1 // keep sizes predictable
	s := newTestService(t, cfg)

	big := strings.Repeat("x", 100)
	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, Set(s, k, big, time.Minute))
		time.Sleep(2 * time.Millisecond)
	}

	st := s.GetStats()
	assert.LessOrEqual(t, st.SizeBytes, int64(256))
	assert.Less(t, st.Entries, 3)
}

func TestDelete(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "k", "v", time.Minute))
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))

	_, ok := Get[string](s, "k")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "a", 1, time.Minute))
	require.NoError(t, Set(s, "b", 2, time.Minute))
	s.Clear()

	st := s.GetStats()
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.SizeBytes)
}

func TestCleanup(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "stale1", "v", 10*time.Millisecond))
	require.NoError(t, Set(s, "stale2", "v", 10*time.Millisecond))
	require.NoError(t, Set(s, "fresh", "v", time.Minute))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, s.Cleanup())
	assert.Equal(t, 0, s.Cleanup(), "second sweep finds nothing")
	assert.Equal(t, 1, s.GetStats().Entries)
}

func TestGetOrSet(t *testing.T) {
	s := newTestService(t, DefaultConfig())
	ctx := context.Background()

	calls := 0
	factory := func(ctx context.Context) (string, error) {
		calls++
		return "generated", nil
	}

	v, err := GetOrSet(ctx, s, "k", factory, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "generated", v)
	assert.Equal(t, 1, calls)

	v, err = GetOrSet(ctx, s, "k", factory, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "generated", v)
	assert.Equal(t, 1, calls, "hit must not invoke the factory")
}

func TestGetOrSet_FactoryError(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	wantErr := errors.New("upstream unavailable")
	_, err := GetOrSet(context.Background(), s, "k", func(ctx context.Context) (string, error) {
		return "", wantErr
	}, time.Minute)
	assert.ErrorIs(t, err, wantErr)

	_, ok := Get[string](s, "k")
	assert.False(t, ok, "failed results are never cached")
}

func TestContentAddressed(t *testing.T) {
	s := newTestService(t, DefaultConfig())
	ctx := context.Background()

	type request struct {
		Endpoint string `json:"endpoint"`
		Prompt   string `json:"prompt"`
	}
	req := request{Endpoint: "chat", Prompt: "hi"}

	calls := 0
	factory := func(ctx context.Context) (reply, error) {
		calls++
		return reply{Text: "hello", Model: "narrator-v2"}, nil
	}

	v, err := GetOrSetCached(ctx, s, req, factory, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)

	// Same semantic input: served from cache.
	v, err = GetOrSetCached(ctx, s, request{Endpoint: "chat", Prompt: "hi"}, factory, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)
	assert.Equal(t, 1, calls)

	got, ok, err := GetCached[reply](s, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text)

	require.NoError(t, SetCached(s, req, reply{Text: "revised"}, time.Minute))
	got, ok, err = GetCached[reply](s, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "revised", got.Text)
}

func TestGet_TypeMismatchDropsEntry(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "k", reply{Text: "hi"}, time.Minute))

	_, ok := Get[int](s, "k")
	assert.False(t, ok)

	st := s.GetStats()
	assert.Equal(t, uint64(0), st.Hits, "a mismatched read is not a hit")
	assert.Equal(t, uint64(1), st.Misses, "a mismatched read counts as a miss")

	_, ok = Get[reply](s, "k")
	assert.False(t, ok, "mismatched entry was dropped")
}

func TestStats_Timestamps(t *testing.T) {
	s := newTestService(t, DefaultConfig())

	require.NoError(t, Set(s, "old", "v", time.Minute))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, Set(s, "new", "v", time.Minute))

	st := s.GetStats()
	assert.Equal(t, 2, st.Entries)
	assert.True(t, st.OldestEntry.Before(st.NewestEntry))
}
