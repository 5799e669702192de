package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults for limiter configuration.
const (
	// DefaultMaxWait is the deadline applied to queued requests when an
	// endpoint config does not set one.
	DefaultMaxWait = 30 * time.Second

	// DefaultDrainInterval is how often the background task re-evaluates
	// queues. Without it, a queued request on a quiet endpoint would wait
	// for another Acquire call to trigger a refill.
	DefaultDrainInterval = 100 * time.Millisecond
)

// EndpointConfig holds the admission parameters for one logical endpoint.
type EndpointConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int

	// BurstLimit is the bucket capacity; the bucket starts full.
	BurstLimit int

	// QueueSize bounds the wait queue. Zero means no queuing: requests
	// are shed as soon as the bucket is empty.
	QueueSize int

	// MaxWait is the deadline for queued requests (default: DefaultMaxWait).
	MaxWait time.Duration
}

func (c EndpointConfig) validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be > 0 (got %d)", c.RequestsPerMinute)
	}
	if c.BurstLimit <= 0 {
		return fmt.Errorf("burst_limit must be > 0 (got %d)", c.BurstLimit)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0 (got %d)", c.QueueSize)
	}
	return nil
}

// EndpointMetrics is an observability snapshot for one endpoint.
type EndpointMetrics struct {
	TotalRequests       uint64
	SuccessfulRequests  uint64
	RateLimitedRequests uint64
	QueuedRequests      uint64
	AverageWaitTime     time.Duration
	CurrentTokens       float64
	MaxTokens           int
}

// Events receives admission notifications for external telemetry collectors.
// Implementations must not call back into the Limiter.
type Events interface {
	// RequestQueued fires when a request suspends waiting for a token.
	RequestQueued(endpoint string, queueDepth int)

	// RequestProcessed fires when a queued request is admitted.
	RequestProcessed(endpoint string, waitTime time.Duration)
}

// Config holds limiter-wide configuration.
type Config struct {
	// DrainInterval is the background queue evaluation period
	// (default: DefaultDrainInterval).
	DrainInterval time.Duration

	// Events receives admission notifications. Optional.
	Events Events
}

// DefaultConfig returns a safe default limiter configuration.
func DefaultConfig() Config {
	return Config{
		DrainInterval: DefaultDrainInterval,
	}
}

// tokenBucket tracks admission budget for one endpoint. Refill is computed
// lazily from elapsed wall-clock time, so the level is correct between
// background ticks. Invariant: 0 <= tokens <= maxTokens.
type tokenBucket struct {
	tokens       float64
	maxTokens    int
	refillPerMs  float64
	lastRefillAt time.Time
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefillAt)
	if elapsed <= 0 {
		return
	}
	b.tokens += float64(elapsed) / float64(time.Millisecond) * b.refillPerMs
	if b.tokens > float64(b.maxTokens) {
		b.tokens = float64(b.maxTokens)
	}
	b.lastRefillAt = now
}

// endpointState is everything the limiter tracks for one endpoint.
type endpointState struct {
	name    string
	cfg     EndpointConfig
	bucket  tokenBucket
	queue   waitQueue
	metrics struct {
		total       uint64
		success     uint64
		rateLimited uint64
		totalWait   time.Duration
		waitSamples uint64
	}
}

// notice is a deferred event emission; notifications are collected under
// the lock and emitted after it is released.
type notice struct {
	endpoint string
	queued   bool
	depth    int
	wait     time.Duration
}

// Limiter is a per-endpoint admission controller: one independent token
// bucket and priority wait queue per logical endpoint name. Construct one
// instance at the composition root and inject it into every caller.
type Limiter struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	seq       uint64

	events    Events
	logger    zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new Limiter and starts its background drain task.
// Call Close to stop it.
func New(cfg Config) *Limiter {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	l := &Limiter{
		endpoints: make(map[string]*endpointState),
		events:    cfg.Events,
		logger:    log.With().Str("component", "ratelimit").Logger(),
		done:      make(chan struct{}),
	}
	go l.run(cfg.DrainInterval)
	return l
}

// Configure (re-)initializes the bucket for an endpoint. The bucket starts
// full. Reconfiguring keeps any queued waiters; they drain under the new
// parameters.
func (l *Limiter) Configure(endpoint string, cfg EndpointConfig) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("configure %q: %w", endpoint, err)
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}

	l.mu.Lock()
	ep, ok := l.endpoints[endpoint]
	if !ok {
		ep = &endpointState{name: endpoint}
		l.endpoints[endpoint] = ep
	}
	ep.cfg = cfg
	ep.bucket = tokenBucket{
		tokens:       float64(cfg.BurstLimit),
		maxTokens:    cfg.BurstLimit,
		refillPerMs:  float64(cfg.RequestsPerMinute) / 60000.0,
		lastRefillAt: time.Now(),
	}
	admissionTokensAvailable.WithLabelValues(endpoint).Set(ep.bucket.tokens)
	l.mu.Unlock()

	l.logger.Info().
		Str("endpoint", endpoint).
		Int("requests_per_minute", cfg.RequestsPerMinute).
		Int("burst_limit", cfg.BurstLimit).
		Int("queue_size", cfg.QueueSize).
		Dur("max_wait", cfg.MaxWait).
		Msg("Endpoint configured")
	return nil
}

// Acquire admits one operation on the endpoint, suspending the caller when
// no token is immediately available and the wait queue has room.
//
// Failure modes (all of type *AdmissionError):
//   - ErrNotConfigured: the endpoint was never configured.
//   - ErrQueueFull: the wait queue is at capacity (load shedding).
//   - ErrAcquireTimeout: the request waited past the endpoint's MaxWait.
//   - ErrQueueCleared: ClearQueue or Close failed the waiter.
//
// Context cancellation returns ctx.Err(). No token is consumed on any
// failure path.
func (l *Limiter) Acquire(ctx context.Context, endpoint string, priority Priority) error {
	l.mu.Lock()
	ep, ok := l.endpoints[endpoint]
	if !ok {
		l.mu.Unlock()
		return &AdmissionError{Endpoint: endpoint, Priority: priority, Err: ErrNotConfigured}
	}

	now := time.Now()
	ep.metrics.total++
	ep.bucket.refill(now)

	// A lazy refill is a refill event: queued waiters drain first so a
	// newcomer can never jump ahead of them.
	notes := l.drainLocked(ep, now)

	if ep.bucket.tokens >= 1 {
		// drainLocked left a token only if the queue is empty.
		ep.bucket.tokens--
		ep.metrics.success++
		admissionTokensAvailable.WithLabelValues(endpoint).Set(ep.bucket.tokens)
		l.mu.Unlock()
		l.emit(notes)
		admissionRequestsTotal.WithLabelValues(endpoint, outcomeImmediate).Inc()
		return nil
	}

	if ep.queue.Len() >= ep.cfg.QueueSize {
		queueSize := ep.cfg.QueueSize
		ep.metrics.rateLimited++
		l.mu.Unlock()
		l.emit(notes)
		admissionRequestsTotal.WithLabelValues(endpoint, outcomeShed).Inc()
		l.logger.Warn().
			Str("endpoint", endpoint).
			Str("priority", priority.String()).
			Int("queue_size", queueSize).
			Msg("Request shed: admission queue full")
		return &AdmissionError{Endpoint: endpoint, Priority: priority, Err: ErrQueueFull}
	}

	l.seq++
	w := &waiter{
		id:         uuid.New(),
		endpoint:   endpoint,
		priority:   priority,
		enqueuedAt: now,
		deadline:   now.Add(ep.cfg.MaxWait),
		seq:        l.seq,
		admit:      make(chan error, 1),
	}
	ep.queue.push(w)
	depth := ep.queue.Len()
	admissionQueueDepth.WithLabelValues(endpoint).Set(float64(depth))
	l.mu.Unlock()

	notes = append(notes, notice{endpoint: endpoint, queued: true, depth: depth})
	l.emit(notes)

	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	select {
	case err := <-w.admit:
		return err
	case <-timer.C:
		return l.abandon(ep, w, outcomeTimeout,
			&AdmissionError{Endpoint: endpoint, Priority: priority, Err: ErrAcquireTimeout})
	case <-ctx.Done():
		return l.abandon(ep, w, outcomeCancelled, ctx.Err())
	}
}

// abandon removes a waiter after a timeout or cancellation. If the waiter
// was admitted concurrently, its delivered outcome wins: the token is
// already consumed.
func (l *Limiter) abandon(ep *endpointState, w *waiter, outcome string, reason error) error {
	l.mu.Lock()
	if w.index < 0 {
		l.mu.Unlock()
		return <-w.admit
	}
	ep.queue.remove(w)
	admissionQueueDepth.WithLabelValues(ep.name).Set(float64(ep.queue.Len()))
	l.mu.Unlock()

	admissionRequestsTotal.WithLabelValues(ep.name, outcome).Inc()
	l.logger.Debug().
		Str("endpoint", ep.name).
		Str("priority", w.priority.String()).
		Str("request_id", w.id.String()).
		AnErr("reason", reason).
		Msg("Queued request abandoned")
	return reason
}

// drainLocked expires overdue waiters and admits queued waiters while
// tokens last. Caller holds l.mu and has already refilled the bucket.
func (l *Limiter) drainLocked(ep *endpointState, now time.Time) []notice {
	var notes []notice

	for _, w := range ep.queue.expired(now) {
		w.admit <- &AdmissionError{Endpoint: ep.name, Priority: w.priority, Err: ErrAcquireTimeout}
		admissionRequestsTotal.WithLabelValues(ep.name, outcomeTimeout).Inc()
	}

	for ep.bucket.tokens >= 1 {
		w := ep.queue.pop()
		if w == nil {
			break
		}
		ep.bucket.tokens--
		ep.metrics.success++
		wait := now.Sub(w.enqueuedAt)
		ep.metrics.totalWait += wait
		ep.metrics.waitSamples++
		w.admit <- nil

		admissionRequestsTotal.WithLabelValues(ep.name, outcomeAdmitted).Inc()
		admissionWaitSeconds.WithLabelValues(ep.name).Observe(wait.Seconds())
		notes = append(notes, notice{endpoint: ep.name, wait: wait})
	}

	admissionQueueDepth.WithLabelValues(ep.name).Set(float64(ep.queue.Len()))
	admissionTokensAvailable.WithLabelValues(ep.name).Set(ep.bucket.tokens)
	return notes
}

// emit delivers collected notifications outside the lock.
func (l *Limiter) emit(notes []notice) {
	for _, n := range notes {
		if n.queued {
			l.logger.Debug().
				Str("endpoint", n.endpoint).
				Int("queue_depth", n.depth).
				Msg("Request queued")
			if l.events != nil {
				l.events.RequestQueued(n.endpoint, n.depth)
			}
		} else {
			l.logger.Debug().
				Str("endpoint", n.endpoint).
				Dur("wait_time", n.wait).
				Msg("Request processed")
			if l.events != nil {
				l.events.RequestProcessed(n.endpoint, n.wait)
			}
		}
	}
}

// run is the background drain loop. It exists to wake queued requests on
// quiet endpoints; all bucket math stays lazy.
func (l *Limiter) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			var notes []notice
			for _, ep := range l.endpoints {
				ep.bucket.refill(now)
				notes = append(notes, l.drainLocked(ep, now)...)
			}
			l.mu.Unlock()
			l.emit(notes)
		}
	}
}

// Metrics returns an observability snapshot for an endpoint. The bucket is
// refilled first so CurrentTokens reflects the live level.
func (l *Limiter) Metrics(endpoint string) (EndpointMetrics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ep, ok := l.endpoints[endpoint]
	if !ok {
		return EndpointMetrics{}, fmt.Errorf("%w: %q", ErrNotConfigured, endpoint)
	}
	ep.bucket.refill(time.Now())

	m := EndpointMetrics{
		TotalRequests:       ep.metrics.total,
		SuccessfulRequests:  ep.metrics.success,
		RateLimitedRequests: ep.metrics.rateLimited,
		QueuedRequests:      uint64(ep.queue.Len()),
		CurrentTokens:       ep.bucket.tokens,
		MaxTokens:           ep.bucket.maxTokens,
	}
	if ep.metrics.waitSamples > 0 {
		m.AverageWaitTime = ep.metrics.totalWait / time.Duration(ep.metrics.waitSamples)
	}
	return m, nil
}

// ResetMetrics zeroes the counters for an endpoint. Bucket and queue state
// are untouched.
func (l *Limiter) ResetMetrics(endpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ep, ok := l.endpoints[endpoint]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotConfigured, endpoint)
	}
	ep.metrics.total = 0
	ep.metrics.success = 0
	ep.metrics.rateLimited = 0
	ep.metrics.totalWait = 0
	ep.metrics.waitSamples = 0
	return nil
}

// QueueStatus returns the current wait queue depth per endpoint.
func (l *Limiter) QueueStatus() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := make(map[string]int, len(l.endpoints))
	for name, ep := range l.endpoints {
		status[name] = ep.queue.Len()
	}
	return status
}

// ClearQueue immediately fails every queued request with ErrQueueCleared,
// for the given endpoints or all endpoints when none are given. Returns the
// number of waiters failed.
func (l *Limiter) ClearQueue(endpoints ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	targets := make([]*endpointState, 0, len(l.endpoints))
	if len(endpoints) == 0 {
		for _, ep := range l.endpoints {
			targets = append(targets, ep)
		}
	} else {
		for _, name := range endpoints {
			if ep, ok := l.endpoints[name]; ok {
				targets = append(targets, ep)
			}
		}
	}

	cleared := 0
	for _, ep := range targets {
		for {
			w := ep.queue.pop()
			if w == nil {
				break
			}
			w.admit <- &AdmissionError{Endpoint: ep.name, Priority: w.priority, Err: ErrQueueCleared}
			admissionRequestsTotal.WithLabelValues(ep.name, outcomeCleared).Inc()
			cleared++
		}
		admissionQueueDepth.WithLabelValues(ep.name).Set(0)
	}
	return cleared
}

// Close stops the background drain task and clears all queues. Safe to call
// more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		n := l.ClearQueue()
		l.logger.Info().Int("waiters_cleared", n).Msg("Limiter closed")
	})
}
