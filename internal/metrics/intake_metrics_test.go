package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewIntakeMetrics(t *testing.T) {
	metrics := NewIntakeMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics.turns == nil || metrics.commits == nil || metrics.stockMovements == nil {
		t.Fatal("counter vectors should not be nil")
	}
	if metrics.commitDuration == nil || metrics.inferenceDuration == nil {
		t.Fatal("histograms should not be nil")
	}
	if metrics.activeSessions == nil {
		t.Fatal("activeSessions gauge should not be nil")
	}
}

func TestNewIntakeMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewIntakeMetricsWithRegisterer(reg)
	second := NewIntakeMetricsWithRegisterer(reg)

	first.RecordOutboxEvent()
	second.RecordOutboxEvent()

	if got := counterValue(t, first.outboxEvents); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordTurnAndCommit(t *testing.T) {
	metrics := NewIntakeMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordTurn("awaiting_confirmation", "provide_address")
	metrics.RecordTurn("awaiting_confirmation", "provide_address")
	metrics.RecordCommit("order", "committed", 20*time.Millisecond)

	if got := counterValue(t, metrics.turns.WithLabelValues("awaiting_confirmation", "provide_address")); got != 2 {
		t.Errorf("expected 2 turns, got %f", got)
	}
	if got := counterValue(t, metrics.commits.WithLabelValues("order", "committed")); got != 1 {
		t.Errorf("expected 1 commit, got %f", got)
	}

	metric := &dto.Metric{}
	if err := metrics.commitDuration.Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 commit duration sample, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestRecordSessionGauge(t *testing.T) {
	metrics := NewIntakeMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSessionStarted()
	metrics.RecordSessionStarted()
	metrics.RecordSessionFinished()

	metric := &dto.Metric{}
	if err := metrics.activeSessions.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("expected 1 active session, got %f", metric.Gauge.GetValue())
	}
}

func TestRecordStockMovementsIgnoresNonPositive(t *testing.T) {
	metrics := NewIntakeMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordStockMovements("order_fulfillment", 3)
	metrics.RecordStockMovements("order_fulfillment", 0)

	if got := counterValue(t, metrics.stockMovements.WithLabelValues("order_fulfillment")); got != 3 {
		t.Errorf("expected 3 movements, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *IntakeMetrics

	metrics.RecordTurn("idle", "unrecognized")
	metrics.RecordCommit("quote", "committed", time.Second)
	metrics.RecordInference("mistral", "ok", time.Second)
	metrics.RecordSessionStarted()
	metrics.RecordLowStock()
}
