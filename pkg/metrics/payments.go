package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels attached to operation counters.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDenied    = "denied"
)

// PaymentMetrics records latency and outcome counts for payment-core operations.
type PaymentMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_operation_duration_seconds",
		Help:    "Duration of payment-core operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_operation_total",
		Help: "Payment-core operations by outcome.",
	}, []string{"operation", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Provider webhook events by type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(duration, outcomes, webhooks)
	return &PaymentMetrics{
		duration: duration,
		outcomes: outcomes,
		webhooks: webhooks,
	}
}

// ObserveDuration records the duration for the named operation.
func (p *PaymentMetrics) ObserveDuration(operation string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	p.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncOutcome increments the outcome counter for the named operation.
func (p *PaymentMetrics) IncOutcome(operation, outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncWebhookEvent increments the webhook counter for the event type.
func (p *PaymentMetrics) IncWebhookEvent(eventType, result string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// Timed wraps an operation, recording duration and outcome together.
func (p *PaymentMetrics) Timed(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.ObserveDuration(operation, time.Since(start))
	if err != nil {
		p.IncOutcome(operation, OutcomeFailed)
		return err
	}
	p.IncOutcome(operation, OutcomeSucceeded)
	return nil
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
