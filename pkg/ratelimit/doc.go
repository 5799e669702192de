// Package ratelimit implements per-endpoint admission control for outbound
// calls to slow, metered generation services.
//
// Each logical endpoint owns an independent token bucket and a priority wait
// queue. The bucket refills lazily from elapsed wall-clock time; a
// low-frequency background task only exists to drain queues on endpoints
// that see no new Acquire calls.
//
// # Basic Usage
//
//	limiter := ratelimit.New(ratelimit.DefaultConfig())
//	defer limiter.Close()
//
//	err := limiter.Configure("chat", ratelimit.EndpointConfig{
//		RequestsPerMinute: 60,
//		BurstLimit:        3,
//		QueueSize:         10,
//	})
//	if err != nil {
//		return err
//	}
//
//	// Immediately before each external call:
//	if err := limiter.Acquire(ctx, "chat", ratelimit.PriorityMedium); err != nil {
//		var admErr *ratelimit.AdmissionError
//		if errors.As(err, &admErr) && admErr.Retryable() {
//			// Sustained overload; retry under the caller's policy.
//		}
//		return err
//	}
//
// # Admission Order
//
// Among requests waiting on the same endpoint, admission is priority-major
// (high > medium > low) and enqueue-time-minor (FIFO within a band). A full
// queue causes immediate rejection with ErrQueueFull rather than unbounded
// buildup, so memory and latency under overload stay bounded by QueueSize.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - gengate_admission_requests_total{endpoint, outcome} - Admission decisions
//   - gengate_admission_wait_seconds{endpoint} - Queued wait times
//   - gengate_admission_queue_depth{endpoint} - Live queue depth
//   - gengate_admission_tokens_available{endpoint} - Live bucket level
package ratelimit
