package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records order placement and payment outcomes.
type CheckoutMetrics struct {
	placements *prometheus.CounterVec
	promos     *prometheus.CounterVec
	payments   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_total",
		Help: "Checkout requests by mode and outcome.",
	}, []string{"mode", "outcome"})
	promos := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_promo_evaluations_total",
		Help: "Promo code evaluations by outcome.",
	}, []string{"outcome"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_confirmations_total",
		Help: "Payment confirmations by resulting order status.",
	}, []string{"status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Time spent assembling an order.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	reg.MustRegister(placements, promos, payments, duration)
	return &CheckoutMetrics{
		placements: placements,
		promos:     promos,
		payments:   payments,
		duration:   duration,
	}
}

// ObserveCheckout records one quote or commit attempt.
func (c *CheckoutMetrics) ObserveCheckout(mode, outcome string, elapsed time.Duration) {
	if c == nil || c.placements == nil {
		return
	}
	mode = normalizeLabel(mode)
	c.placements.WithLabelValues(mode, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// IncPromo counts a promo evaluation outcome (applied, rejected, ignored).
func (c *CheckoutMetrics) IncPromo(outcome string) {
	if c == nil || c.promos == nil {
		return
	}
	c.promos.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPayment counts a processed payment callback.
func (c *CheckoutMetrics) IncPayment(status string) {
	if c == nil || c.payments == nil {
		return
	}
	c.payments.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
