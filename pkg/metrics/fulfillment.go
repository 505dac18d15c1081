package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerOpen     = 1
	BreakerHalfOpen = 2
)

// FulfillmentMetrics tracks per-seller partitions and carrier calls.
type FulfillmentMetrics struct {
	partitions *prometheus.CounterVec
	carrier    *prometheus.HistogramVec
	breaker    *prometheus.GaugeVec
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	partitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_partitions_total",
		Help: "Seller partitions processed by outcome.",
	}, []string{"outcome"})
	carrier := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carrier_request_duration_seconds",
		Help:    "Carrier API latency by operation and result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})
	breaker := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carrier_breaker_state",
		Help: "Carrier circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"breaker"})
	reg.MustRegister(partitions, carrier, breaker)
	return &FulfillmentMetrics{
		partitions: partitions,
		carrier:    carrier,
		breaker:    breaker,
	}
}

// IncPartition counts a partition outcome (created, skipped, failed).
func (f *FulfillmentMetrics) IncPartition(outcome string) {
	if f == nil || f.partitions == nil {
		return
	}
	f.partitions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveCarrierCall records latency for one carrier API call.
func (f *FulfillmentMetrics) ObserveCarrierCall(operation string, err error, elapsed time.Duration) {
	if f == nil || f.carrier == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	f.carrier.WithLabelValues(normalizeLabel(operation), result).Observe(elapsed.Seconds())
}

// SetBreakerState publishes the current breaker state.
func (f *FulfillmentMetrics) SetBreakerState(name string, state int) {
	if f == nil || f.breaker == nil {
		return
	}
	f.breaker.WithLabelValues(normalizeLabel(name)).Set(float64(state))
}
