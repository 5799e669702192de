package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for admission control.
var (
	admissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gengate_admission_requests_total",
		Help: "Total admission requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	admissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gengate_admission_wait_seconds",
		Help:    "Time queued requests waited before admission by endpoint",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	admissionQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gengate_admission_queue_depth",
		Help: "Current wait queue depth by endpoint",
	}, []string{"endpoint"})

	admissionTokensAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gengate_admission_tokens_available",
		Help: "Current token bucket level by endpoint",
	}, []string{"endpoint"})
)

// Outcome labels for gengate_admission_requests_total.
const (
	outcomeImmediate = "immediate"
	outcomeAdmitted  = "admitted_after_wait"
	outcomeShed      = "shed"
	outcomeTimeout   = "timeout"
	outcomeCleared   = "cleared"
	outcomeCancelled = "cancelled"
)
