// Package metrics provides the centralized Prometheus metrics registry for
// the governance layer. All metrics are defined in their respective packages
// (ratelimit, cache, gate) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the governance layer.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Admission Metrics (pkg/ratelimit):
//   - gengate_admission_requests_total{endpoint, outcome} (Counter): Decisions by
//     outcome (immediate, admitted_after_wait, shed, timeout, cleared, cancelled)
//   - gengate_admission_wait_seconds{endpoint} (Histogram): Queued wait time
//   - gengate_admission_queue_depth{endpoint} (Gauge): Live wait queue depth
//   - gengate_admission_tokens_available{endpoint} (Gauge): Live bucket level
//
// Cache Metrics (pkg/cache):
//   - gengate_cache_hits_total (Counter): Cache hits
//   - gengate_cache_misses_total (Counter): Cache misses, lazy expiry included
//   - gengate_cache_entries (Gauge): Live entry count
//   - gengate_cache_size_bytes (Gauge): Aggregate stored size
//   - gengate_cache_evictions_total{reason} (Counter): Removals (lru, expired)
//   - gengate_cache_snapshot_errors_total{operation} (Counter): Persistence
//     failures (save, load); never fatal
//
// Governed Call Metrics (pkg/gate):
//   - gengate_requests_total{endpoint, status} (Counter): Calls by status
//     (cache_hit, ok, denied, upstream_error)
//   - gengate_request_duration_seconds{endpoint} (Histogram): Call duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   rate(gengate_cache_hits_total[5m]) /
//   (rate(gengate_cache_hits_total[5m]) + rate(gengate_cache_misses_total[5m]))
//
//   # Load Shedding Rate
//   sum by (endpoint) (rate(gengate_admission_requests_total{outcome="shed"}[5m]))
//
//   # P95 Admission Wait
//   histogram_quantile(0.95, rate(gengate_admission_wait_seconds_bucket[5m]))
//
//   # Upstream Error Rate
//   rate(gengate_requests_total{status="upstream_error"}[5m])
