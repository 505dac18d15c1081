package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks relay throughput by event type and outcome
// (published, retry, parked).
type OutboxMetrics struct {
	events    *prometheus.CounterVec
	batchSize prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox rows settled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Rows claimed per publisher batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(events, batchSize)
	return &OutboxMetrics{events: events, batchSize: batchSize}
}

func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

func (m *OutboxMetrics) IncOutcome(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
