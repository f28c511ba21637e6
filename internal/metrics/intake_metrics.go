package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntakeMetrics содержит метрики диалогового приёма заказов.
// Все методы безопасны для nil-получателя: компоненты без метрик просто не пишут их.
type IntakeMetrics struct {
	// Реплики диалога
	turns          *prometheus.CounterVec
	activeSessions prometheus.Gauge
	expired        prometheus.Counter

	// Фиксация заказов и смет
	commits        *prometheus.CounterVec
	commitDuration prometheus.Histogram
	compensations  prometheus.Counter

	// Модель
	inferenceDuration *prometheus.HistogramVec

	// Склад
	stockMovements *prometheus.CounterVec
	lowStock       prometheus.Counter

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewIntakeMetrics создаёт метрики в реестре по умолчанию.
func NewIntakeMetrics() *IntakeMetrics {
	return NewIntakeMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewIntakeMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewIntakeMetricsWithRegisterer(registerer prometheus.Registerer) *IntakeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &IntakeMetrics{
		turns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "intake_turns_total",
			Help: "Total number of conversation turns by resulting state and intent",
		}, []string{"state", "intent"}),
		activeSessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "intake_sessions_active",
			Help: "Number of conversations that have not reached a terminal state",
		}),
		expired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "intake_sessions_expired_total",
			Help: "Total number of sessions cancelled by the idle timeout",
		}),
		commits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "intake_commits_total",
			Help: "Total number of order and quote commits by outcome",
		}, []string{"kind", "result"}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "intake_commit_duration_seconds",
			Help:    "Duration of order and quote commits in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "intake_stock_compensations_total",
			Help: "Total number of stock commits reversed after a persistence failure",
		}),
		inferenceDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "intake_inference_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"model", "result"}),
		stockMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "intake_stock_movements_total",
			Help: "Total number of stock movements applied by reason",
		}, []string{"reason"}),
		lowStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "intake_stock_low_alerts_total",
			Help: "Total number of low stock alerts raised",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "intake_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "intake_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTurn учитывает обработанную реплику.
func (m *IntakeMetrics) RecordTurn(state, intent string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state, intent).Inc()
}

// RecordSessionStarted увеличивает количество активных разговоров.
func (m *IntakeMetrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// RecordSessionFinished уменьшает количество активных разговоров.
func (m *IntakeMetrics) RecordSessionFinished() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordSessionExpired учитывает сессию, отменённую по таймауту.
func (m *IntakeMetrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

// RecordCommit учитывает фиксацию заказа или сметы и её длительность.
func (m *IntakeMetrics) RecordCommit(kind, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(kind, result).Inc()
	m.commitDuration.Observe(duration.Seconds())
}

// RecordCompensation учитывает откат списания.
func (m *IntakeMetrics) RecordCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// RecordInference записывает длительность вызова модели.
func (m *IntakeMetrics) RecordInference(model, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(model, result).Observe(duration.Seconds())
}

// RecordStockMovements учитывает n движений склада с причиной reason.
func (m *IntakeMetrics) RecordStockMovements(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stockMovements.WithLabelValues(reason).Add(float64(n))
}

// RecordLowStock учитывает сигнал о низком остатке.
func (m *IntakeMetrics) RecordLowStock() {
	if m == nil {
		return
	}
	m.lowStock.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *IntakeMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *IntakeMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
