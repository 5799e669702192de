package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/gengate/pkg/cache"
	"github.com/storyforge/gengate/pkg/ratelimit"
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Text string `json:"text"`
}

func newTestGate(t *testing.T, rpm, burst, queueSize int) *Gate {
	t.Helper()

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	require.NoError(t, limiter.Configure("chat", ratelimit.EndpointConfig{
		RequestsPerMinute: rpm,
		BurstLimit:        burst,
		QueueSize:         queueSize,
		MaxWait:           200 * time.Millisecond,
	}))
	t.Cleanup(limiter.Close)

	cacheSvc, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { cacheSvc.Shutdown(context.Background()) })

	g, err := New(limiter, cacheSvc)
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	cacheSvc, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	defer cacheSvc.Shutdown(context.Background())

	_, err = New(nil, cacheSvc)
	assert.Error(t, err)

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	defer limiter.Close()

	_, err = New(limiter, nil)
	assert.Error(t, err)

	g, err := New(limiter, cacheSvc)
	require.NoError(t, err)
	assert.Same(t, limiter, g.Limiter())
	assert.Same(t, cacheSvc, g.Cache())
}

func TestCall_MissThenHit(t *testing.T) {
	g := newTestGate(t, 600, 5, 4)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (chatResponse, error) {
		calls++
		return chatResponse{Text: "hello"}, nil
	}

	req := chatRequest{Prompt: "hi"}

	v, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)
	assert.Equal(t, 1, calls)

	// Identical input: served from cache without touching the upstream.
	v, err = Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)
	assert.Equal(t, 1, calls)

	// Different input misses.
	v, err = Call(ctx, g, "chat", ratelimit.PriorityMedium, chatRequest{Prompt: "bye"}, fn, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCall_CacheHitSkipsAdmission(t *testing.T) {
	// One token, no queue: any admission attempt beyond the first fails.
	g := newTestGate(t, 1, 1, 0)
	ctx := context.Background()

	fn := func(ctx context.Context) (chatResponse, error) {
		return chatResponse{Text: "hello"}, nil
	}
	req := chatRequest{Prompt: "hi"}

	_, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	require.NoError(t, err)

	// The token is spent; only the cache can satisfy this.
	v, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)
}

func TestCall_AdmissionErrorPropagates(t *testing.T) {
	g := newTestGate(t, 1, 1, 0)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (chatResponse, error) {
		calls++
		return chatResponse{Text: "hello"}, nil
	}

	_, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, chatRequest{Prompt: "a"}, fn, time.Minute)
	require.NoError(t, err)

	_, err = Call(ctx, g, "chat", ratelimit.PriorityMedium, chatRequest{Prompt: "b"}, fn, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrQueueFull)

	var admErr *ratelimit.AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, "chat", admErr.Endpoint)
	assert.Equal(t, 1, calls, "denied calls never reach the upstream")
}

func TestCall_UnconfiguredEndpoint(t *testing.T) {
	g := newTestGate(t, 600, 5, 4)

	_, err := Call(context.Background(), g, "speech", ratelimit.PriorityMedium, chatRequest{Prompt: "hi"},
		func(ctx context.Context) (chatResponse, error) {
			return chatResponse{}, nil
		}, time.Minute)
	assert.ErrorIs(t, err, ratelimit.ErrNotConfigured)
}

func TestCall_UpstreamErrorNotCached(t *testing.T) {
	g := newTestGate(t, 600, 5, 4)
	ctx := context.Background()

	wantErr := errors.New("upstream exploded")
	calls := 0
	fn := func(ctx context.Context) (chatResponse, error) {
		calls++
		if calls == 1 {
			return chatResponse{}, wantErr
		}
		return chatResponse{Text: "recovered"}, nil
	}

	req := chatRequest{Prompt: "hi"}

	_, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	assert.ErrorIs(t, err, wantErr)

	// The failure was not cached; the retry reaches the upstream.
	v, err := Call(ctx, g, "chat", ratelimit.PriorityMedium, req, fn, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v.Text)
	assert.Equal(t, 2, calls)
}

func TestCall_UnserializableInput(t *testing.T) {
	g := newTestGate(t, 600, 5, 4)

	_, err := Call(context.Background(), g, "chat", ratelimit.PriorityMedium, make(chan int),
		func(ctx context.Context) (chatResponse, error) {
			return chatResponse{}, nil
		}, time.Minute)
	assert.Error(t, err)
}
