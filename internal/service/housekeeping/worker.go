package housekeeping

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 500

	taskSessions    = "sessions"
	taskIdempotency = "idempotency"
)

var (
	housekeepingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_housekeeping_runs_total",
		Help: "Total number of housekeeping runs grouped by task and result.",
	}, []string{"task", "result"})
	housekeepingRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_housekeeping_removed_total",
		Help: "Total number of expired sessions and idempotency keys removed.",
	}, []string{"task"})
)

// SessionExpirer отменяет неактивные сессии.
type SessionExpirer interface {
	ExpireIdle(ctx context.Context, limit int) (int, error)
}

// KeyCleaner удаляет просроченные ключи идемпотентности.
type KeyCleaner interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Options задаёт параметры воркера.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер порции для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Worker периодически отменяет неактивные сессии и чистит ключи идемпотентности.
// Любая из зависимостей может быть nil, тогда соответствующая задача пропускается.
type Worker struct {
	sessions  SessionExpirer
	keys      KeyCleaner
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер обслуживания.
func NewWorker(sessions SessionExpirer, keys KeyCleaner, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "housekeeping-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		sessions:  sessions,
		keys:      keys,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run выполняет обслуживание до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.sessions == nil && w.keys == nil {
		w.logger.Warn("housekeeping worker is disabled: nothing to clean")
		return
	}

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл обеих задач.
func (w *Worker) RunOnce(ctx context.Context) {
	if w.sessions != nil {
		removed, err := w.ExpireSessions(ctx)
		w.record(taskSessions, removed, err)
	}
	if w.keys != nil {
		removed, err := w.DeleteExpiredKeys(ctx, w.now())
		w.record(taskIdempotency, removed, err)
	}
}

func (w *Worker) record(task string, removed int, err error) {
	if removed > 0 {
		housekeepingRemovedTotal.WithLabelValues(task).Add(float64(removed))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		housekeepingRunsTotal.WithLabelValues(task, "error").Inc()
		w.logger.WithError(err).WithField("task", task).Warn("housekeeping run failed")
		return
	}
	housekeepingRunsTotal.WithLabelValues(task, "ok").Inc()
	if removed > 0 {
		w.logger.WithFields(log.Fields{
			"task":    task,
			"removed": removed,
		}).Info("housekeeping completed")
	}
}

// ExpireSessions отменяет неактивные сессии порциями batchSize.
func (w *Worker) ExpireSessions(ctx context.Context) (int, error) {
	return w.drain(ctx, func(ctx context.Context) (int, error) {
		return w.sessions.ExpireIdle(ctx, w.batchSize)
	})
}

// DeleteExpiredKeys удаляет все ключи с ttl <= before порциями batchSize.
func (w *Worker) DeleteExpiredKeys(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}
	return w.drain(ctx, func(ctx context.Context) (int, error) {
		return w.keys.DeleteExpired(ctx, before, w.batchSize)
	})
}

// drain повторяет шаг, пока он заполняет порцию целиком.
func (w *Worker) drain(ctx context.Context, step func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := step(ctx)
		if err != nil {
			return total, err
		}
		total += n

		if n < w.batchSize {
			return total, nil
		}
	}
}
