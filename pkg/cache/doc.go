// Package cache provides a bounded, generic response cache for expensive
// external generation calls.
//
// The service combines TTL expiry, strict LRU eviction by last access,
// transparent gzip compression above a size threshold, and optional
// crash-safe snapshot persistence. It decides whether a call is needed at
// all; the companion ratelimit package decides when a needed call may
// proceed.
//
// # Basic Usage
//
//	svc, err := cache.New(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer svc.Shutdown(ctx)
//
//	// Content-addressed: the key is derived from the request itself.
//	reply, err := cache.GetOrSetCached(ctx, svc, req,
//		func(ctx context.Context) (ChatReply, error) {
//			return callUpstream(ctx, req)
//		}, 10*time.Minute)
//
// # Persistence
//
//	svc, err := cache.New(cache.Config{
//		MaxEntries:   500,
//		MaxSizeBytes: 32 << 20,
//		DefaultTTL:   10 * time.Minute,
//		Snapshot:     cache.NewFileStore("/var/lib/gengate/cache.json"),
//	})
//
// Snapshots are written with a temp-file-then-rename sequence (FileStore)
// or a single-key SET (RedisStore), so a crash mid-write never corrupts the
// persisted state. A missing or corrupt snapshot means a cold start, never
// a failed one.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - gengate_cache_hits_total / gengate_cache_misses_total
//   - gengate_cache_entries - Live entry count
//   - gengate_cache_size_bytes - Aggregate stored size
//   - gengate_cache_evictions_total{reason} - Removals by cause
//   - gengate_cache_snapshot_errors_total{operation} - Persistence failures
package cache
