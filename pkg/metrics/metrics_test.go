package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)
	m.ObserveCheckout("commit", "created", 120*time.Millisecond)
	m.IncPromo("applied")
	m.IncPromo("applied")
	m.IncPayment("paid")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_orders_total", "outcome", "created"); err != nil || got != 1 {
		t.Fatalf("expected created=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_promo_evaluations_total", "outcome", "applied"); err != nil || got != 2 {
		t.Fatalf("expected applied=2, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "checkout_duration_seconds", "mode", "commit"); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f err=%v", got, err)
	}
}

func TestFulfillmentMetricsBreakerGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetrics(reg)
	m.SetBreakerState("carrier", BreakerOpen)
	m.IncPartition("failed")
	m.ObserveCarrierCall("create_order", errors.New("boom"), 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "carrier_breaker_state")
	if mf == nil || len(mf.GetMetric()) != 1 || mf.GetMetric()[0].GetGauge().GetValue() != BreakerOpen {
		t.Fatalf("expected breaker gauge to be open, got %v", mf)
	}
	if got, err := fetchHistogramSum(mfs, "carrier_request_duration_seconds", "result", "error"); err != nil || got <= 0 {
		t.Fatalf("expected error latency recorded, got %f err=%v", got, err)
	}
}

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("POST", "/api/v1/checkout/quote", 200, 5*time.Millisecond)
	m.ObserveRequest("POST", "/api/v1/checkout/quote", 200, 5*time.Millisecond)
	m.ObserveRequest("POST", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "route", "/api/v1/checkout/quote"); err != nil || got != 2 {
		t.Fatalf("expected quote=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "route", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unmatched route under unknown, got %f err=%v", got, err)
	}
}

func TestJobMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.ObserveDuration("order-expiry", 30*time.Millisecond)
	m.IncSuccess("order-expiry")
	m.IncFailure("outbox-retention")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_job_success_total", "job", "order-expiry"); err != nil || got != 1 {
		t.Fatalf("expected success=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_job_failure_total", "job", "outbox-retention"); err != nil || got != 1 {
		t.Fatalf("expected failure=1, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "maintenance_job_duration_seconds", "job", "order-expiry"); err != nil || got <= 0 {
		t.Fatalf("expected duration recorded, got %f err=%v", got, err)
	}
}

func TestOutboxMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.ObserveBatch(3)
	m.IncOutcome("order_paid", "published")
	m.IncOutcome("order_paid", "published")
	m.IncOutcome("order_placed", "parked")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_total", "event_type", "order_paid"); err != nil || got != 2 {
		t.Fatalf("expected 2 published order_paid events, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_total", "outcome", "parked"); err != nil || got != 1 {
		t.Fatalf("expected 1 parked event, got %f err=%v", got, err)
	}
	batch := findMetricFamily(mfs, "outbox_batch_size")
	if batch == nil || batch.GetMetric()[0].GetHistogram().GetSampleSum() != 3 {
		t.Fatalf("expected batch size observation")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry())
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}

func TestServeDisabledWithoutAddr(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Serve(ctx, "", prometheus.NewRegistry()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var c *CheckoutMetrics
	c.ObserveCheckout("quote", "ok", time.Second)
	c.IncPromo("applied")
	var f *FulfillmentMetrics
	f.IncPartition("created")
	f.SetBreakerState("carrier", BreakerClosed)
	NewCheckoutMetrics(nil).IncPayment("paid")
	var o *OutboxMetrics
	o.ObserveBatch(1)
	o.IncOutcome("order_paid", "published")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
