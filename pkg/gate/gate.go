// Package gate composes admission control and response caching in front of
// outbound calls to generation services.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storyforge/gengate/pkg/cache"
	"github.com/storyforge/gengate/pkg/ratelimit"
)

// Prometheus metrics for governed calls.
var (
	gateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gengate_requests_total",
		Help: "Total governed calls by endpoint and status",
	}, []string{"endpoint", "status"})

	gateRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gengate_request_duration_seconds",
		Help:    "Governed call duration in seconds by endpoint, cache hits included",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// Status labels for gengate_requests_total.
const (
	statusCacheHit      = "cache_hit"
	statusOK            = "ok"
	statusDenied        = "denied"
	statusUpstreamError = "upstream_error"
)

// Gate is the single entry point callers use for governed external calls.
// Build one at the composition root and inject it into every caller; the
// limiter and cache it wraps are never reached through global state.
type Gate struct {
	limiter *ratelimit.Limiter
	cache   *cache.Service
	logger  zerolog.Logger
}

// New creates a Gate over the given limiter and cache service.
func New(limiter *ratelimit.Limiter, cacheSvc *cache.Service) (*Gate, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if cacheSvc == nil {
		return nil, fmt.Errorf("cache service is required")
	}
	return &Gate{
		limiter: limiter,
		cache:   cacheSvc,
		logger:  log.With().Str("component", "gate").Logger(),
	}, nil
}

// Limiter returns the wrapped admission controller, for observability
// endpoints.
func (g *Gate) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Cache returns the wrapped cache service, for observability endpoints.
func (g *Gate) Cache() *cache.Service {
	return g.cache
}

// Call performs one governed external call: derive the cache key from the
// call's semantic input, return a fresh cached result when one exists,
// otherwise acquire admission for the endpoint and invoke fn, caching its
// result on success.
//
// Admission failures propagate as *ratelimit.AdmissionError. Errors from fn
// are returned as-is and never cached. Retry policy belongs to the caller.
func Call[T any](ctx context.Context, g *Gate, endpoint string, priority ratelimit.Priority, input any, fn func(context.Context) (T, error), ttl time.Duration) (T, error) {
	var zero T

	start := time.Now()
	defer func() {
		gateRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	key, err := cache.Key(input)
	if err != nil {
		return zero, err
	}

	if v, ok := cache.Get[T](g.cache, key); ok {
		gateRequestsTotal.WithLabelValues(endpoint, statusCacheHit).Inc()
		g.logger.Debug().
			Str("endpoint", endpoint).
			Str("cache_key", key).
			Msg("Governed call served from cache")
		return v, nil
	}

	if err := g.limiter.Acquire(ctx, endpoint, priority); err != nil {
		gateRequestsTotal.WithLabelValues(endpoint, statusDenied).Inc()
		return zero, err
	}

	v, err := fn(ctx)
	if err != nil {
		gateRequestsTotal.WithLabelValues(endpoint, statusUpstreamError).Inc()
		g.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Upstream call failed")
		return zero, err
	}

	if err := cache.Set(g.cache, key, v, ttl); err != nil {
		g.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Result not cached")
	}
	gateRequestsTotal.WithLabelValues(endpoint, statusOK).Inc()
	return v, nil
}
