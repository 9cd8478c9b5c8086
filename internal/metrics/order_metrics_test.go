package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewOrderMetrics(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewOrderMetricsWithRegisterer should not return nil")
	}

	if metrics.ordersPlaced == nil {
		t.Error("ordersPlaced counter should not be nil")
	}

	if metrics.inventoryFailed == nil {
		t.Error("inventoryFailed counter should not be nil")
	}

	if metrics.ordersPaid == nil {
		t.Error("ordersPaid counter should not be nil")
	}

	if metrics.paymentsFailed == nil {
		t.Error("paymentsFailed counter should not be nil")
	}

	if metrics.ordersCancelled == nil {
		t.Error("ordersCancelled counter should not be nil")
	}

	if metrics.placeDuration == nil {
		t.Error("placeDuration histogram should not be nil")
	}

	if metrics.stepDuration == nil {
		t.Error("stepDuration histogram vec should not be nil")
	}

	if metrics.timelineEvents == nil {
		t.Error("timelineEvents counter should not be nil")
	}

	if metrics.outboxEvents == nil {
		t.Error("outboxEvents counter should not be nil")
	}

	if metrics.activeCheckouts == nil {
		t.Error("activeCheckouts gauge should not be nil")
	}
}

func TestNewOrderMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	// Повторная регистрация должна вернуть уже существующие коллекторы.
	if first.ordersPlaced != second.ordersPlaced {
		t.Error("repeated registration must reuse the existing counter")
	}
}

func TestRecordOrderPlaced(t *testing.T) {
	reg := prometheus.NewRegistry()

	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_orders_placed_total",
		Help: "Test counter",
	})
	activeCheckouts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_active_checkouts",
		Help: "Test gauge",
	})

	reg.MustRegister(ordersPlaced, activeCheckouts)

	metrics := &OrderMetrics{
		ordersPlaced:    ordersPlaced,
		activeCheckouts: activeCheckouts,
	}

	metrics.RecordOrderPlaced()

	metric := &dto.Metric{}
	if err := ordersPlaced.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", metric.Counter.GetValue())
	}

	gaugeMetric := &dto.Metric{}
	if err := activeCheckouts.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}

	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1.0 active checkout, got %f", gaugeMetric.Gauge.GetValue())
	}
}

func TestRecordPlaceDuration(t *testing.T) {
	reg := prometheus.NewRegistry()

	placeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_order_place_duration_seconds",
		Help:    "Test histogram",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(placeDuration)

	metrics := &OrderMetrics{
		placeDuration: placeDuration,
	}

	metrics.RecordPlaceDuration(100 * time.Millisecond)
	metrics.RecordPlaceDuration(500 * time.Millisecond)
	metrics.RecordPlaceDuration(1 * time.Second)

	metric := &dto.Metric{}
	if err := placeDuration.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", metric.Histogram.GetSampleCount())
	}

	sum := metric.Histogram.GetSampleSum()
	if sum < 1.5 || sum > 1.7 {
		t.Errorf("expected sum around 1.6, got %f", sum)
	}
}

func TestRecordStepDuration(t *testing.T) {
	reg := prometheus.NewRegistry()

	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_order_step_duration_seconds",
		Help:    "Test histogram vec",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"step"})

	reg.MustRegister(stepDuration)

	metrics := &OrderMetrics{
		stepDuration: stepDuration,
	}

	metrics.RecordStepDuration("reserve", 50*time.Millisecond)
	metrics.RecordStepDuration("payment", 100*time.Millisecond)

	reserveMetric := &dto.Metric{}
	observer := stepDuration.WithLabelValues("reserve")
	if err := observer.(prometheus.Histogram).Write(reserveMetric); err != nil {
		t.Fatalf("failed to write reserve metric: %v", err)
	}

	if reserveMetric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 sample for reserve, got %d", reserveMetric.Histogram.GetSampleCount())
	}
}

func TestCheckoutLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()

	activeCheckouts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_checkout_lifecycle_active",
		Help: "Test gauge",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_checkout_lifecycle_placed",
		Help: "Test counter",
	})
	ordersPaid := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_checkout_lifecycle_paid",
		Help: "Test counter",
	})

	reg.MustRegister(activeCheckouts, ordersPlaced, ordersPaid)

	metrics := &OrderMetrics{
		activeCheckouts: activeCheckouts,
		ordersPlaced:    ordersPlaced,
		ordersPaid:      ordersPaid,
	}

	metrics.RecordOrderPlaced() // active: 1
	metrics.RecordOrderPlaced() // active: 2
	metrics.RecordOrderPlaced() // active: 3

	metrics.RecordOrderPaid()
	metrics.RecordCheckoutFinished() // active: 2
	metrics.RecordOrderPaid()
	metrics.RecordCheckoutFinished() // active: 1

	gaugeMetric := &dto.Metric{}
	if err := activeCheckouts.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}

	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1 active checkout, got %f", gaugeMetric.Gauge.GetValue())
	}

	placedMetric := &dto.Metric{}
	if err := ordersPlaced.Write(placedMetric); err != nil {
		t.Fatalf("failed to write placed metric: %v", err)
	}

	if placedMetric.Counter.GetValue() != 3.0 {
		t.Errorf("expected 3 placed orders, got %f", placedMetric.Counter.GetValue())
	}

	paidMetric := &dto.Metric{}
	if err := ordersPaid.Write(paidMetric); err != nil {
		t.Fatalf("failed to write paid metric: %v", err)
	}

	if paidMetric.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 paid orders, got %f", paidMetric.Counter.GetValue())
	}
}

func TestRecordOutboxAndTimelineEvents(t *testing.T) {
	reg := prometheus.NewRegistry()

	timelineEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_timeline_events_total",
		Help: "Test counter",
	})
	outboxEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_outbox_events_total",
		Help: "Test counter",
	})

	reg.MustRegister(timelineEvents, outboxEvents)

	metrics := &OrderMetrics{
		timelineEvents: timelineEvents,
		outboxEvents:   outboxEvents,
	}

	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()
	metrics.RecordTimelineEvent()
	metrics.RecordOutboxEvent()

	metric := &dto.Metric{}
	if err := timelineEvents.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 3.0 {
		t.Errorf("expected counter value 3.0, got %f", metric.Counter.GetValue())
	}

	outboxMetric := &dto.Metric{}
	if err := outboxEvents.Write(outboxMetric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if outboxMetric.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", outboxMetric.Counter.GetValue())
	}
}
