package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
	"github.com/vladislavdragonenkov/intake/internal/service/intent"
)

// Extractor: разбор реплик и ответы на общие вопросы.
type Extractor interface {
	Extract(ctx context.Context, utterance string, sc intent.SessionContext) domain.Intent
	Answer(ctx context.Context, question, model string) (string, error)
}

// Resolver: поиск вариантов каталога по тексту.
type Resolver interface {
	Resolve(ctx context.Context, text string, topN int) ([]domain.Candidate, error)
}

// Orchestrator: фиксация заказов и смет.
type Orchestrator interface {
	Commit(ctx context.Context, ri domain.ResolvedIntent, idempotencyKey string) (domain.OrderResult, error)
	Quote(ctx context.Context, ri domain.ResolvedIntent) (domain.OrderResult, error)
	Preview(ctx context.Context, ri domain.ResolvedIntent) (domain.Preview, error)
}

// Turn: одна реплика пользователя.
type Turn struct {
	SessionID string
	Utterance string
	// Model: модель, выбранная пользователем; пустая сохраняет выбор сессии.
	Model string
}

// Reply: ответ движка на реплику. OrderActionAvailable означает, что
// следующей репликой можно подтвердить заказ или смету.
type Reply struct {
	SessionID            string       `json:"session_id"`
	Message              string       `json:"message"`
	State                domain.State `json:"state"`
	OrderActionAvailable bool         `json:"order_action_available"`
	OrderID              string       `json:"order_id,omitempty"`
	QuoteID              string       `json:"quote_id,omitempty"`
}

// Options задаёт параметры движка.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.IntakeMetrics
	Customers   domain.CustomerDirectory
	IdleTimeout time.Duration
	TopN        int
	Clock       func() time.Time
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.IntakeMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithCustomers подключает справочник адресов клиентов.
func WithCustomers(customers domain.CustomerDirectory) Option {
	return func(opts *Options) {
		opts.Customers = customers
	}
}

// WithIdleTimeout задаёт таймаут неактивности сессии.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = timeout
	}
}

// WithTopN задаёт число кандидатов при неоднозначности.
func WithTopN(n int) Option {
	return func(opts *Options) {
		opts.TopN = n
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Engine выполняет реплики: загружает сессию, вызывает экстрактор, резолвер
// и оркестратор вокруг чистой функции Step и сохраняет результат.
// Реплики одной сессии сериализуются, разных сессий идут параллельно.
type Engine struct {
	store        domain.SessionStore
	extractor    Extractor
	resolver     Resolver
	orchestrator Orchestrator
	customers    domain.CustomerDirectory
	cfg          Config
	topN         int
	logger       *log.Entry
	metrics      *metrics.IntakeMetrics
	now          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock: мьютекс сессии со счётчиком ожидающих.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine создаёт движок разговоров.
func NewEngine(store domain.SessionStore, extractor Extractor, resolver Resolver, orchestrator Orchestrator, options ...Option) *Engine {
	opts := Options{
		IdleTimeout: DefaultIdleTimeout,
		TopN:        5,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "conversation-engine")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}

	return &Engine{
		store:        store,
		extractor:    extractor,
		resolver:     resolver,
		orchestrator: orchestrator,
		customers:    opts.Customers,
		cfg:          Config{IdleTimeout: opts.IdleTimeout},
		topN:         opts.TopN,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		locks:        make(map[string]*sessionLock),
	}
}

// Handle обрабатывает реплику в сессии sessionID.
func (e *Engine) Handle(ctx context.Context, sessionID, utterance string) (Reply, error) {
	return e.Converse(ctx, Turn{SessionID: sessionID, Utterance: utterance})
}

// Converse обрабатывает реплику. Пустой SessionID открывает новую сессию.
func (e *Engine) Converse(ctx context.Context, turn Turn) (Reply, error) {
	if turn.SessionID == "" {
		turn.SessionID = uuid.NewString()
	}
	unlock := e.lock(turn.SessionID)
	defer unlock()

	now := e.now()
	session, started, err := e.load(ctx, turn.SessionID, now)
	if err != nil {
		return Reply{}, err
	}

	var prefix string
	if !started && session.IdleFor(now, e.cfg.IdleTimeout) {
		if err := e.finish(ctx, Step(session, Event{Now: now}, e.cfg).Session); err != nil {
			return Reply{}, err
		}
		e.metrics.RecordSessionExpired()
		e.logger.WithField("session_id", session.ID).Info("session expired before turn")
		prefix = replyExpired
		session, started = domain.NewSession(turn.SessionID, now), true
	}
	if started {
		e.metrics.RecordSessionStarted()
	}
	if turn.Model != "" {
		session.Model = turn.Model
	}

	sc := intent.SessionContext{State: session.State, Model: session.Model}
	if session.Partial.Pending != nil {
		sc.Candidates = session.Partial.Pending.Candidates
	}
	in := e.extractor.Extract(ctx, turn.Utterance, sc)
	if in.Err != nil {
		e.logger.WithError(in.Err).WithFields(log.Fields{
			"session_id": session.ID,
			"intent":     in.Kind,
		}).Warn("intent degraded")
	}
	e.logger.WithFields(log.Fields{
		"session_id": session.ID,
		"utterance":  turn.Utterance,
	}).Debug("turn received")

	ev := Event{
		Intent:      in,
		Resolutions: e.resolve(ctx, in.Items),
		Customer:    e.lookupCustomer(ctx, in, session),
		Now:         now,
	}
	out := Step(session, ev, e.cfg)
	out = e.perform(ctx, out)

	if out.Session.State.Terminal() {
		err = e.finish(ctx, out.Session)
	} else {
		err = e.store.Save(ctx, out.Session)
	}
	if err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}
	e.metrics.RecordTurn(string(out.Session.State), string(in.Kind))

	return Reply{
		SessionID:            out.Session.ID,
		Message:              join(prefix, out.Message),
		State:                out.Session.State,
		OrderActionAvailable: out.Session.State == domain.StateAwaitingConfirmation,
		OrderID:              out.Session.OrderID,
		QuoteID:              out.Session.QuoteID,
	}, nil
}

// Cancel явно отменяет сессию.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (Reply, error) {
	if sessionID == "" {
		return Reply{}, domain.ErrSessionIDRequired
	}
	unlock := e.lock(sessionID)
	defer unlock()

	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	now := e.now()
	out := Step(session, Event{Intent: domain.Intent{Kind: domain.IntentCancel}, Now: now}, e.cfg)
	if err := e.finish(ctx, out.Session); err != nil {
		return Reply{}, err
	}
	return Reply{SessionID: sessionID, Message: out.Message, State: out.Session.State}, nil
}

// ExpireIdle отменяет до limit сессий, неактивных дольше таймаута.
// Остатки при этом не затрагиваются: до фиксации сессия ничего не резервирует.
func (e *Engine) ExpireIdle(ctx context.Context, limit int) (int, error) {
	now := e.now()
	idle, err := e.store.ListIdle(ctx, now.Add(-e.cfg.IdleTimeout), limit)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	expired := 0
	for _, candidate := range idle {
		ok, err := e.expireOne(ctx, candidate.ID, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (e *Engine) expireOne(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := e.lock(id)
	defer unlock()

	// Сессию перечитываем под блокировкой: реплика могла прийти после ListIdle.
	session, err := e.store.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	out := Step(session, Event{Now: now}, e.cfg)
	if out.Session.State != domain.StateCancelled {
		return false, nil
	}
	if err := e.finish(ctx, out.Session); err != nil {
		return false, err
	}
	e.metrics.RecordSessionExpired()
	e.logger.WithField("session_id", id).Info("idle session expired")
	return true, nil
}

func (e *Engine) load(ctx context.Context, id string, now time.Time) (domain.Session, bool, error) {
	session, err := e.store.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewSession(id, now), true, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if session.State.Terminal() {
		return domain.NewSession(id, now), true, nil
	}
	return session, false, nil
}

// finish удаляет завершённую сессию и запоминает адрес клиента.
func (e *Engine) finish(ctx context.Context, session domain.Session) error {
	if session.State == domain.StateCompleted && e.customers != nil {
		p := session.Partial
		if p.Email != "" && p.Address != nil {
			if err := e.customers.Remember(ctx, p.Email, *p.Address); err != nil {
				e.logger.WithError(err).WithField("session_id", session.ID).Warn("failed to remember customer address")
			}
		}
	}
	if err := e.store.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	e.metrics.RecordSessionFinished()
	return nil
}

// perform выполняет действие, запрошенное переходом.
func (e *Engine) perform(ctx context.Context, out Outcome) Outcome {
	switch out.Action {
	case ActionAnswer:
		answer, err := e.extractor.Answer(ctx, out.Question, out.Session.Model)
		if err != nil {
			e.logger.WithError(err).WithField("session_id", out.Session.ID).Warn("general answer failed")
			answer = replyAnswerUnavailable
		}
		out.Message = join(answer, out.Message)
	case ActionCommit, ActionQuote:
		ri := ResolvedIntentFor(out.Session)
		var (
			result domain.OrderResult
			err    error
		)
		if out.Action == ActionQuote {
			result, err = e.orchestrator.Quote(ctx, ri)
		} else {
			result, err = e.orchestrator.Commit(ctx, ri, CommitKey(out.Session))
		}
		if err != nil {
			e.logger.WithError(err).WithField("session_id", out.Session.ID).Error("commit failed")
		}
		out = ApplyCommit(out.Session, result, err, e.now())
	}

	if out.Session.State == domain.StateAwaitingConfirmation && len(out.Session.Partial.Shortages) == 0 {
		out.Message = e.withPreview(ctx, out)
	}
	return out
}

// withPreview подставляет в сводку актуальные цены и доступность.
func (e *Engine) withPreview(ctx context.Context, out Outcome) string {
	plain := confirmation(out.Session.Partial, nil)
	if !strings.Contains(out.Message, plain) {
		return out.Message
	}
	preview, err := e.orchestrator.Preview(ctx, ResolvedIntentFor(out.Session))
	if err != nil {
		e.logger.WithError(err).WithField("session_id", out.Session.ID).Debug("preview unavailable, using session prices")
		return out.Message
	}
	return strings.Replace(out.Message, plain, confirmation(out.Session.Partial, &preview), 1)
}

func (e *Engine) resolve(ctx context.Context, items []domain.IntentItem) []Resolution {
	if len(items) == 0 {
		return nil
	}
	out := make([]Resolution, len(items))
	for i, item := range items {
		ref := item.Reference()
		if ref == "" {
			continue
		}
		candidates, err := e.resolver.Resolve(ctx, ref, e.topN)
		out[i] = Resolution{Candidates: candidates, Err: err}
		if err != nil {
			e.logger.WithError(err).WithField("item", ref).Warn("catalog resolution failed")
		}
	}
	return out
}

func (e *Engine) lookupCustomer(ctx context.Context, in domain.Intent, session domain.Session) *domain.Customer {
	if e.customers == nil {
		return nil
	}
	email := session.Partial.Email
	if in.Email != "" {
		email = in.Email
	}
	normalized, err := domain.ValidateEmail(email)
	if err != nil {
		return nil
	}
	customer, ok, err := e.customers.Lookup(ctx, normalized)
	if err != nil {
		e.logger.WithError(err).Warn("customer lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	return &customer
}

// lock сериализует реплики одной сессии. Запись удаляется, когда её никто не держит.
func (e *Engine) lock(id string) func() {
	e.locksMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sessionLock{}
		e.locks[id] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, id)
		}
		e.locksMu.Unlock()
	}
}

// CommitKey возвращает ключ идемпотентности фиксации, один на экземпляр сессии.
func CommitKey(s domain.Session) string {
	return fmt.Sprintf("commit:%s:%d", s.ID, s.CreatedAt.UnixNano())
}
