package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks cache hits.
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gengate_cache_hits_total",
		Help: "Total number of cache hits",
	})

	// cacheMisses tracks cache misses, including lazy-expired reads.
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gengate_cache_misses_total",
		Help: "Total number of cache misses",
	})

	// cacheEntries tracks the live entry count.
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gengate_cache_entries",
		Help: "Current number of cache entries",
	})

	// cacheSizeBytes tracks aggregate stored size.
	cacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gengate_cache_size_bytes",
		Help: "Current size of the cache in bytes (stored representation)",
	})

	// cacheEvictions tracks removals by cause.
	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gengate_cache_evictions_total",
		Help: "Total number of cache evictions by reason",
	}, []string{"reason"}) // "lru", "expired"

	// cacheSnapshotErrors tracks persistence failures; these never affect
	// the in-memory fast path.
	cacheSnapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gengate_cache_snapshot_errors_total",
		Help: "Total number of snapshot persistence errors by operation",
	}, []string{"operation"}) // "save", "load"
)

// Eviction reason labels.
const (
	evictReasonLRU     = "lru"
	evictReasonExpired = "expired"
)
