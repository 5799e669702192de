package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults for service configuration.
const (
	DefaultMaxEntries           = 1000
	DefaultMaxSizeBytes         = 64 << 20 // 64 MiB
	DefaultTTL                  = 5 * time.Minute
	DefaultCompressionThreshold = 1024 // bytes
	DefaultSnapshotInterval     = time.Minute
)

// Config holds cache service configuration.
type Config struct {
	// MaxEntries bounds the number of live entries.
	MaxEntries int

	// MaxSizeBytes bounds the aggregate stored size.
	MaxSizeBytes int64

	// DefaultTTL applies when Set is called with a non-positive TTL.
	DefaultTTL time.Duration

	// CompressionThreshold is the serialized size above which values are
	// stored gzip-compressed. Zero selects DefaultCompressionThreshold;
	// negative disables compression.
	CompressionThreshold int

	// Snapshot enables persistence when set. Optional.
	Snapshot SnapshotStore

	// SnapshotInterval is the periodic snapshot cadence
	// (default: DefaultSnapshotInterval; only used when Snapshot is set).
	SnapshotInterval time.Duration
}

// DefaultConfig returns a safe default configuration without persistence.
func DefaultConfig() Config {
	return Config{
		MaxEntries:           DefaultMaxEntries,
		MaxSizeBytes:         DefaultMaxSizeBytes,
		DefaultTTL:           DefaultTTL,
		CompressionThreshold: DefaultCompressionThreshold,
		SnapshotInterval:     DefaultSnapshotInterval,
	}
}

// Stats is an aggregate observability snapshot of the store.
type Stats struct {
	Entries     int       `json:"entries"`
	SizeBytes   int64     `json:"size_bytes"`
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	MissRate    float64   `json:"miss_rate"`
	OldestEntry time.Time `json:"oldest_entry,omitempty"`
	NewestEntry time.Time `json:"newest_entry,omitempty"`
}

// Service is a bounded TTL+LRU store for expensive external-call results.
// Values are JSON-serialized, compressed above a size threshold, and
// optionally snapshotted to durable storage. Access it through the generic
// package functions (Get, Set, GetOrSet and the content-addressed variants).
type Service struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	totalSize int64
	hits      uint64
	misses    uint64

	cfg       Config
	logger    zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache service. When cfg.Snapshot is set, the most recent
// snapshot is loaded (a missing or corrupt snapshot degrades to a cold
// cache) and the periodic snapshot task starts; stop it with Shutdown.
func New(cfg Config) (*Service, error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max_entries must be > 0 (got %d)", cfg.MaxEntries)
	}
	if cfg.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("max_size_bytes must be > 0 (got %d)", cfg.MaxSizeBytes)
	}
	if cfg.DefaultTTL <= 0 {
		return nil, fmt.Errorf("default_ttl must be > 0 (got %s)", cfg.DefaultTTL)
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}

	s := &Service{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		logger:  log.With().Str("component", "cache").Logger(),
		done:    make(chan struct{}),
	}

	if cfg.Snapshot != nil {
		s.loadSnapshot(context.Background())
		go s.run()
	}
	return s, nil
}

// getBytes returns the decompressed payload for key, if present and fresh.
// Expired entries are removed on the spot. Miss paths are counted here; the
// hit is only counted by the typed layer once the payload deserializes, so a
// mismatched read never shows up as a hit in stats.
func (s *Service) getBytes(key string) ([]byte, bool) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		s.mu.Unlock()
		cacheMisses.Inc()
		return nil, false
	}
	if now.After(e.ExpiresAt) {
		s.removeLocked(e)
		s.misses++
		s.updateGaugesLocked()
		s.mu.Unlock()
		cacheMisses.Inc()
		cacheEvictions.WithLabelValues(evictReasonExpired).Inc()
		return nil, false
	}

	payload := e.Data
	if e.Compressed {
		raw, err := decompress(e.Data)
		if err != nil {
			// Corrupt entry; drop it and report a miss.
			s.removeLocked(e)
			s.misses++
			s.updateGaugesLocked()
			s.mu.Unlock()
			cacheMisses.Inc()
			s.logger.Warn().Err(err).Str("cache_key", key).Msg("Dropped undecompressable cache entry")
			return nil, false
		}
		payload = raw
	}

	e.AccessCount++
	e.LastAccessedAt = now
	s.mu.Unlock()

	return payload, true
}

func (s *Service) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	cacheHits.Inc()
}

func (s *Service) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
	cacheMisses.Inc()
}

// setBytes stores a serialized payload under key, compressing above the
// threshold, then evicts least-recently-accessed entries until the size
// bounds hold again.
func (s *Service) setBytes(key string, raw []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	data := raw
	compressed := false
	if s.cfg.CompressionThreshold >= 0 && len(raw) > s.effectiveThreshold() {
		c, err := compress(raw)
		switch {
		case err != nil:
			// Never fail the set over compression; store raw.
			s.logger.Warn().Err(err).Str("cache_key", key).Msg("Compression failed, storing uncompressed")
		case len(c) < len(raw):
			data = c
			compressed = true
		}
	}

	now := time.Now()
	e := &Entry{
		Key:            key,
		Data:           data,
		Compressed:     compressed,
		SizeBytes:      len(data),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.totalSize -= int64(old.SizeBytes)
	}
	s.entries[key] = e
	s.totalSize += int64(e.SizeBytes)
	evicted := s.evictLocked()
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("cache_key", key).
		Int("size_bytes", e.SizeBytes).
		Bool("compressed", compressed).
		Dur("ttl", ttl).
		Int("evicted", evicted).
		Msg("Cache entry stored")
}

func (s *Service) effectiveThreshold() int {
	if s.cfg.CompressionThreshold == 0 {
		return DefaultCompressionThreshold
	}
	return s.cfg.CompressionThreshold
}

// evictLocked removes least-recently-accessed entries until both MaxEntries
// and MaxSizeBytes hold. Sorted scan is O(n log n) per pass; fine for the
// bounded entry counts this cache is configured with.
func (s *Service) evictLocked() int {
	if len(s.entries) <= s.cfg.MaxEntries && s.totalSize <= s.cfg.MaxSizeBytes {
		return 0
	}

	byAge := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		byAge = append(byAge, e)
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].LastAccessedAt.Before(byAge[j].LastAccessedAt)
	})

	evicted := 0
	for _, e := range byAge {
		if len(s.entries) <= s.cfg.MaxEntries && s.totalSize <= s.cfg.MaxSizeBytes {
			break
		}
		s.removeLocked(e)
		cacheEvictions.WithLabelValues(evictReasonLRU).Inc()
		evicted++
	}
	return evicted
}

func (s *Service) removeLocked(e *Entry) {
	delete(s.entries, e.Key)
	s.totalSize -= int64(e.SizeBytes)
}

func (s *Service) updateGaugesLocked() {
	cacheEntries.Set(float64(len(s.entries)))
	cacheSizeBytes.Set(float64(s.totalSize))
}

// Delete removes the entry for key, reporting whether one existed.
func (s *Service) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	s.updateGaugesLocked()
	return true
}

// Clear removes all entries. Hit/miss counters are kept.
func (s *Service) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.totalSize = 0
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Debug().Msg("Cache cleared")
}

// Cleanup sweeps out all currently expired entries and returns the count
// removed.
func (s *Service) Cleanup() int {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for _, e := range s.entries {
		if now.After(e.ExpiresAt) {
			s.removeLocked(e)
			cacheEvictions.WithLabelValues(evictReasonExpired).Inc()
			removed++
		}
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Expired entries swept")
	}
	return removed
}

// GetStats returns aggregate store statistics.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:   len(s.entries),
		SizeBytes: s.totalSize,
		Hits:      s.hits,
		Misses:    s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
		st.MissRate = float64(s.misses) / float64(total)
	}
	for _, e := range s.entries {
		if st.OldestEntry.IsZero() || e.CreatedAt.Before(st.OldestEntry) {
			st.OldestEntry = e.CreatedAt
		}
		if e.CreatedAt.After(st.NewestEntry) {
			st.NewestEntry = e.CreatedAt
		}
	}
	return st
}

// loadSnapshot restores the entry set from the snapshot store. Any failure
// degrades to a cold cache; startup never fails over persistence.
func (s *Service) loadSnapshot(ctx context.Context) {
	data, err := s.cfg.Snapshot.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			s.logger.Debug().Msg("No snapshot found, starting cold")
			return
		}
		cacheSnapshotErrors.WithLabelValues("load").Inc()
		s.logger.Warn().Err(err).Msg("Snapshot load failed, starting cold")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		cacheSnapshotErrors.WithLabelValues("load").Inc()
		s.logger.Warn().Err(err).Msg("Corrupt snapshot discarded, starting cold")
		return
	}
	if snap.Version != snapshotVersion {
		cacheSnapshotErrors.WithLabelValues("load").Inc()
		s.logger.Warn().
			Int("snapshot_version", snap.Version).
			Int("supported_version", snapshotVersion).
			Msg("Stale snapshot discarded, starting cold")
		return
	}

	now := time.Now()
	restored, dropped := 0, 0

	s.mu.Lock()
	for key, e := range snap.Entries {
		if e == nil || now.After(e.ExpiresAt) {
			dropped++
			continue
		}
		s.entries[key] = e
		s.totalSize += int64(e.SizeBytes)
		restored++
	}
	s.hits = snap.Hits
	s.misses = snap.Misses
	// Bounds may have shrunk since the snapshot was taken.
	s.evictLocked()
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Info().
		Int("restored", restored).
		Int("dropped_expired", dropped).
		Time("saved_at", snap.SavedAt).
		Msg("Cache restored from snapshot")
}

// saveSnapshot serializes the live entry set and stats and hands the blob
// to the snapshot store. The store copy happens under the lock; I/O does
// not, so concurrent gets and sets are unaffected.
func (s *Service) saveSnapshot(ctx context.Context) error {
	s.mu.Lock()
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Hits:    s.hits,
		Misses:  s.misses,
		Entries: make(map[string]*Entry, len(s.entries)),
	}
	for k, e := range s.entries {
		copied := *e
		snap.Entries[k] = &copied
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		cacheSnapshotErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.cfg.Snapshot.Save(ctx, data); err != nil {
		cacheSnapshotErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Debug().
		Int("entries", len(snap.Entries)).
		Int("blob_bytes", len(data)).
		Msg("Snapshot persisted")
	return nil
}

// run is the periodic snapshot loop; started only when persistence is
// enabled.
func (s *Service) run() {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.saveSnapshot(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("Periodic snapshot failed, in-memory state remains authoritative")
			}
		}
	}
}

// Shutdown stops the snapshot task and performs one final synchronous
// snapshot when persistence is enabled. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cfg.Snapshot != nil {
			err = s.saveSnapshot(ctx)
		}
	})
	return err
}
