package ordering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
)

const (
	// DefaultQuoteValidity: срок действия сметы.
	DefaultQuoteValidity = 30 * 24 * time.Hour
	// DefaultIdempotencyTTL: сколько хранится результат фиксации.
	DefaultIdempotencyTTL = 24 * time.Hour

	kindOrder       = "order"
	kindQuote       = "quote"
	kindQuoteAccept = "quote_accept"

	reasonVariantUnknown = "variant_not_found"
	reasonInvalidRequest = "invalid_request"
)

// Options задаёт необязательные зависимости оркестратора.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.IntakeMetrics
	Outbox         domain.OutboxRepository
	Timeline       domain.TimelineRepository
	Idempotency    domain.IdempotencyRepository
	QuoteValidity  time.Duration
	IdempotencyTTL time.Duration
	Clock          func() time.Time
}

// Option настраивает Orchestrator.
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

// WithOutbox подключает transactional outbox для событий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
	}
}

// WithTimeline подключает журнал событий заказов и смет.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = timeline
	}
}

// WithIdempotency подключает хранилище ключей идемпотентности.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(opts *Options) {
		opts.Idempotency = repo
	}
}

// WithQuoteValidity задаёт срок действия сметы.
func WithQuoteValidity(d time.Duration) Option {
	return func(opts *Options) {
		opts.QuoteValidity = d
	}
}

// WithIdempotencyTTL задаёт срок хранения результата фиксации.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(opts *Options) {
		opts.IdempotencyTTL = d
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Orchestrator фиксирует заказы и сметы. Остаток меняется только через
// StockLedger.CommitAll; если заказ не удалось сохранить после списания,
// списание компенсируется обратными движениями.
type Orchestrator struct {
	catalog     domain.CatalogReader
	ledger      domain.StockLedger
	orders      domain.OrderRepository
	quotes      domain.QuoteRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository

	quoteValidity  time.Duration
	idempotencyTTL time.Duration
	logger         *log.Entry
	metrics        *metrics.IntakeMetrics
	now            func() time.Time
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(
	catalog domain.CatalogReader,
	ledger domain.StockLedger,
	orders domain.OrderRepository,
	quotes domain.QuoteRepository,
	options ...Option,
) *Orchestrator {
	opts := Options{
		QuoteValidity:  DefaultQuoteValidity,
		IdempotencyTTL: DefaultIdempotencyTTL,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "orchestrator")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.QuoteValidity <= 0 {
		opts.QuoteValidity = DefaultQuoteValidity
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = DefaultIdempotencyTTL
	}

	return &Orchestrator{
		catalog:        catalog,
		ledger:         ledger,
		orders:         orders,
		quotes:         quotes,
		outbox:         opts.Outbox,
		timeline:       opts.Timeline,
		idempotency:    opts.Idempotency,
		quoteValidity:  opts.QuoteValidity,
		idempotencyTTL: opts.IdempotencyTTL,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Clock,
	}
}

// Commit фиксирует заказ: переоценивает позиции по текущему каталогу,
// списывает остаток одной операцией и сохраняет заказ. Нехватка остатка
// возвращается как PartiallyUnavailable без изменения склада.
func (o *Orchestrator) Commit(ctx context.Context, ri domain.ResolvedIntent, idempotencyKey string) (result domain.OrderResult, err error) {
	start := o.now()
	defer func() { o.metrics.RecordCommit(kindOrder, resultLabel(result, err), o.now().Sub(start)) }()

	if err := ri.Validate(); err != nil {
		return rejected(reasonInvalidRequest), nil
	}
	lines, rejectedResult, err := o.price(ctx, ri.Lines)
	if err != nil || rejectedResult != nil {
		if rejectedResult != nil {
			return *rejectedResult, nil
		}
		return domain.OrderResult{}, err
	}

	order := domain.Order{
		ID:              uuid.NewString(),
		SessionID:       ri.SessionID,
		CustomerEmail:   ri.CustomerEmail,
		Delivery:        ri.Delivery,
		DeliveryAddress: ri.DeliveryAddress,
		BillingAddress:  ri.BillingAddress,
		Lines:           lines,
	}
	return o.place(ctx, order, idempotencyKey)
}

// Quote создаёт смету: цены и срок замораживаются, склад не затрагивается.
func (o *Orchestrator) Quote(ctx context.Context, ri domain.ResolvedIntent) (result domain.OrderResult, err error) {
	start := o.now()
	defer func() { o.metrics.RecordCommit(kindQuote, resultLabel(result, err), o.now().Sub(start)) }()

	if err := ri.Validate(); err != nil {
		return rejected(reasonInvalidRequest), nil
	}
	lines, rejectedResult, err := o.price(ctx, ri.Lines)
	if err != nil || rejectedResult != nil {
		if rejectedResult != nil {
			return *rejectedResult, nil
		}
		return domain.OrderResult{}, err
	}

	now := o.now()
	quote := domain.Quote{
		ID:              uuid.NewString(),
		SessionID:       ri.SessionID,
		CustomerEmail:   ri.CustomerEmail,
		Delivery:        ri.Delivery,
		DeliveryAddress: ri.DeliveryAddress,
		Status:          domain.QuoteStatusPending,
		Total:           domain.LinesTotal(lines),
		Lines:           lines,
		ExpiresAt:       now.Add(o.quoteValidity),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.quotes.Create(ctx, quote); err != nil {
		return domain.OrderResult{}, fmt.Errorf("%w: create quote: %w", domain.ErrPersistenceFailure, err)
	}

	o.emit(ctx, domain.AggregateQuote, quote.ID, domain.EventQuoteCreated, "", QuoteCreatedEvent{
		QuoteID:       quote.ID,
		SessionID:     quote.SessionID,
		CustomerEmail: quote.CustomerEmail,
		Lines:         eventLines(quote.Lines),
		Total:         quote.Total,
		ExpiresAt:     quote.ExpiresAt,
	})
	o.logger.WithFields(log.Fields{
		"quote_id": quote.ID,
		"total":    quote.Total.StringFixed(2),
	}).Info("quote created")

	outcomes := lineOutcomes(quote.Lines, true)
	for i := range outcomes {
		outcomes[i].Available = o.available(ctx, outcomes[i].SKU, outcomes[i].Quantity)
	}
	return domain.OrderResult{
		Kind:      domain.ResultCommitted,
		QuoteID:   quote.ID,
		Total:     quote.Total,
		Lines:     outcomes,
		ExpiresAt: quote.ExpiresAt,
	}, nil
}

// Preview оценивает запрос по текущим ценам и остаткам без изменений.
func (o *Orchestrator) Preview(ctx context.Context, ri domain.ResolvedIntent) (domain.Preview, error) {
	if len(ri.Lines) == 0 {
		return domain.Preview{}, domain.ErrLinesRequired
	}
	lines, rejectedResult, err := o.price(ctx, ri.Lines)
	if err != nil {
		return domain.Preview{}, err
	}
	if rejectedResult != nil {
		return domain.Preview{}, domain.ErrVariantNotFound
	}

	preview := domain.Preview{
		Lines: lineOutcomes(lines, true),
		Total: domain.LinesTotal(lines),
	}
	stockLines := make([]domain.StockLine, len(lines))
	for i, line := range lines {
		stockLines[i] = domain.StockLine{SKU: line.SKU, Quantity: line.Quantity}
	}
	order, totals := domain.AggregateLines(stockLines)
	short := make(map[string]struct{})
	for _, sku := range order {
		availability, err := o.ledger.Check(ctx, sku, totals[sku])
		switch {
		case errors.Is(err, domain.ErrVariantNotFound):
			availability = domain.Availability{SKU: sku, Requested: totals[sku]}
		case err != nil:
			return domain.Preview{}, fmt.Errorf("check stock %s: %w", sku, err)
		}
		if !availability.Sufficient {
			preview.Shortages = append(preview.Shortages, domain.Shortage{SKU: sku, Requested: totals[sku], Available: availability.Current})
			short[sku] = struct{}{}
		}
	}
	for i := range preview.Lines {
		if _, ok := short[preview.Lines[i].SKU]; ok {
			preview.Lines[i].Available = false
		}
	}
	return preview, nil
}

// AcceptQuote превращает действующую смету в заказ по замороженным ценам.
func (o *Orchestrator) AcceptQuote(ctx context.Context, quoteID string) (result domain.OrderResult, err error) {
	start := o.now()
	defer func() { o.metrics.RecordCommit(kindQuoteAccept, resultLabel(result, err), o.now().Sub(start)) }()

	quote, err := o.quotes.Get(ctx, quoteID)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if quote.Status != domain.QuoteStatusPending {
		return domain.OrderResult{}, fmt.Errorf("quote %s is %s: %w", quote.ID, quote.Status, domain.ErrInvalidTransition)
	}
	if quote.Expired(o.now()) {
		if err := o.quotes.UpdateStatus(ctx, quote.ID, domain.QuoteStatusExpired, ""); err != nil {
			o.logger.WithError(err).WithField("quote_id", quote.ID).Warn("failed to mark quote expired")
		} else {
			o.appendTimeline(ctx, quote.ID, domain.EventQuoteExpired, "")
		}
		return domain.OrderResult{}, domain.ErrQuoteExpired
	}

	lines := make([]domain.OrderLine, len(quote.Lines))
	for i, line := range quote.Lines {
		line.ID = uuid.NewString()
		lines[i] = line
	}
	order := domain.Order{
		ID:              uuid.NewString(),
		SessionID:       quote.SessionID,
		QuoteID:         quote.ID,
		CustomerEmail:   quote.CustomerEmail,
		Delivery:        quote.Delivery,
		DeliveryAddress: quote.DeliveryAddress,
		BillingAddress:  quote.DeliveryAddress,
		Lines:           lines,
	}
	result, err = o.place(ctx, order, "quote:"+quote.ID)
	if err != nil || result.Kind != domain.ResultCommitted {
		return result, err
	}

	if err := o.quotes.UpdateStatus(ctx, quote.ID, domain.QuoteStatusAccepted, result.OrderID); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"quote_id": quote.ID,
			"order_id": result.OrderID,
		}).Error("order committed but quote status not updated")
		return result, nil
	}
	o.emit(ctx, domain.AggregateQuote, quote.ID, domain.EventQuoteAccepted, "", StatusChangedEvent{
		ID:     quote.ID,
		Status: string(domain.QuoteStatusAccepted),
		TS:     o.now(),
	})
	result.QuoteID = quote.ID
	return result, nil
}

// RejectQuote отклоняет действующую смету.
func (o *Orchestrator) RejectQuote(ctx context.Context, quoteID, reason string) error {
	quote, err := o.quotes.Get(ctx, quoteID)
	if err != nil {
		return err
	}
	if quote.Status != domain.QuoteStatusPending {
		return fmt.Errorf("quote %s is %s: %w", quote.ID, quote.Status, domain.ErrInvalidTransition)
	}
	if err := o.quotes.UpdateStatus(ctx, quote.ID, domain.QuoteStatusRejected, ""); err != nil {
		return fmt.Errorf("%w: reject quote: %w", domain.ErrPersistenceFailure, err)
	}
	o.emit(ctx, domain.AggregateQuote, quote.ID, domain.EventQuoteRejected, reason, StatusChangedEvent{
		ID:     quote.ID,
		Status: string(domain.QuoteStatusRejected),
		Reason: reason,
		TS:     o.now(),
	})
	return nil
}

// CancelOrder отменяет заказ и возвращает остаток движениями return.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) error {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Status.CanTransition(domain.OrderStatusCancelled) {
		return fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrInvalidTransition)
	}
	if err := o.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
		return fmt.Errorf("%w: cancel order: %w", domain.ErrPersistenceFailure, err)
	}

	// Обратные движения строятся от позиций заказа: списание было ровно таким.
	taken := make([]domain.StockMovement, len(order.Lines))
	for i, line := range order.Lines {
		taken[i] = domain.StockMovement{
			SKU:           line.SKU,
			Delta:         -line.Quantity,
			CorrelationID: order.ID,
			OrderLineID:   line.ID,
		}
	}
	returned, err := o.ledger.Compensate(context.WithoutCancel(ctx), taken, domain.MovementReturn)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("order cancelled but stock not returned")
		o.emit(ctx, domain.AggregateOrder, order.ID, domain.EventCompensationRequired, reason, CompensationRequiredEvent{
			OrderID: order.ID,
			Lines:   eventLines(order.Lines),
			Error:   err.Error(),
			TS:      o.now(),
		})
		return fmt.Errorf("%w: return stock: %w", domain.ErrPersistenceFailure, err)
	}
	o.metrics.RecordStockMovements(string(domain.MovementReturn), len(returned))

	o.emit(ctx, domain.AggregateOrder, order.ID, domain.EventOrderCancelled, reason, StatusChangedEvent{
		ID:     order.ID,
		Status: string(domain.OrderStatusCancelled),
		Reason: reason,
		TS:     o.now(),
	})
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order cancelled")
	return nil
}

// AdvanceOrder переводит заказ в следующий статус жизненного цикла.
func (o *Orchestrator) AdvanceOrder(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, domain.ErrInvalidTransition)
	}
	if status == domain.OrderStatusCancelled {
		return o.CancelOrder(ctx, orderID, "")
	}

	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Status.CanTransition(status) {
		return fmt.Errorf("order %s: %s -> %s: %w", order.ID, order.Status, status, domain.ErrInvalidTransition)
	}
	if err := o.orders.UpdateStatus(ctx, order.ID, status); err != nil {
		return fmt.Errorf("%w: advance order: %w", domain.ErrPersistenceFailure, err)
	}
	o.emit(ctx, domain.AggregateOrder, order.ID, domain.EventOrderAdvanced, "", StatusChangedEvent{
		ID:     order.ID,
		Status: string(status),
		TS:     o.now(),
	})
	return nil
}

// place выполняет общий путь фиксации заказа: ключ идемпотентности,
// CommitAll, сохранение заказа и события.
func (o *Orchestrator) place(ctx context.Context, order domain.Order, idempotencyKey string) (domain.OrderResult, error) {
	requestHash := hashOrder(order)
	key := ""
	if o.idempotency != nil && idempotencyKey != "" {
		key = idempotencyKey + ":" + requestHash[:16]
		stored, done, err := o.claim(ctx, key, requestHash)
		if err != nil || done {
			return stored, err
		}
	}

	stockLines := make([]domain.StockLine, len(order.Lines))
	for i, line := range order.Lines {
		stockLines[i] = domain.StockLine{
			SKU:           line.SKU,
			Quantity:      line.Quantity,
			Reason:        domain.MovementOrderFulfillment,
			CorrelationID: order.ID,
			OrderLineID:   line.ID,
		}
	}

	outcome, err := o.ledger.CommitAll(ctx, stockLines)
	if err != nil {
		if errors.Is(err, domain.ErrVariantNotFound) {
			result := rejected(reasonVariantUnknown)
			o.settle(ctx, key, result, false)
			return result, nil
		}
		o.settle(ctx, key, domain.OrderResult{}, false)
		return domain.OrderResult{}, fmt.Errorf("%w: commit stock: %w", domain.ErrPersistenceFailure, err)
	}
	if !outcome.Committed {
		result := partiallyUnavailable(order.Lines, outcome.Shortages)
		o.settle(ctx, key, result, false)
		o.logger.WithFields(log.Fields{
			"session_id": order.SessionID,
			"shortages":  len(outcome.Shortages),
		}).Info("order not committed: insufficient stock")
		return result, nil
	}
	o.metrics.RecordStockMovements(string(domain.MovementOrderFulfillment), len(outcome.Movements))

	now := o.now()
	order.Status = domain.OrderStatusPending
	order.Total = domain.LinesTotal(order.Lines)
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := o.orders.Create(ctx, order); err != nil {
		o.compensate(ctx, order.ID, outcome.Movements)
		o.settle(ctx, key, domain.OrderResult{}, false)
		return domain.OrderResult{}, fmt.Errorf("%w: create order: %w", domain.ErrPersistenceFailure, err)
	}

	result := domain.OrderResult{
		Kind:    domain.ResultCommitted,
		OrderID: order.ID,
		QuoteID: order.QuoteID,
		Total:   order.Total,
		Lines:   lineOutcomes(order.Lines, true),
	}
	o.settle(ctx, key, result, true)

	o.emit(ctx, domain.AggregateOrder, order.ID, domain.EventOrderCommitted, "", OrderCommittedEvent{
		OrderID:         order.ID,
		QuoteID:         order.QuoteID,
		SessionID:       order.SessionID,
		CustomerEmail:   order.CustomerEmail,
		Delivery:        order.Delivery,
		DeliveryAddress: order.DeliveryAddress,
		Lines:           eventLines(order.Lines),
		Total:           order.Total,
		CommittedAt:     now,
	})
	for _, level := range outcome.Levels {
		if !level.Low() {
			continue
		}
		o.metrics.RecordLowStock()
		o.emit(ctx, domain.AggregateStock, level.SKU, domain.EventStockLow, "", StockLowEvent{
			SKU:            level.SKU,
			Quantity:       level.Quantity,
			AlertThreshold: level.AlertThreshold,
			TS:             now,
		})
	}

	o.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"session_id": order.SessionID,
		"total":      order.Total.StringFixed(2),
		"lines":      len(order.Lines),
	}).Info("order committed")
	return result, nil
}

// claim регистрирует ключ. done == true означает, что результат уже известен
// и возвращается как есть.
func (o *Orchestrator) claim(ctx context.Context, key, requestHash string) (domain.OrderResult, bool, error) {
	record, err := o.idempotency.CreateProcessing(ctx, key, requestHash, o.now().Add(o.idempotencyTTL))
	switch {
	case err == nil:
		return domain.OrderResult{}, false, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return domain.OrderResult{}, true, fmt.Errorf("%w: %w", domain.ErrCommitInProgress, err)
	default:
		return domain.OrderResult{}, true, fmt.Errorf("%w: claim idempotency key: %w", domain.ErrPersistenceFailure, err)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		var stored domain.OrderResult
		if err := json.Unmarshal(record.Result, &stored); err != nil {
			return domain.OrderResult{}, true, fmt.Errorf("%w: decode stored result: %w", domain.ErrPersistenceFailure, err)
		}
		o.logger.WithField("key", key).Info("commit replayed from idempotency record")
		return stored, true, nil
	case domain.IdempotencyStatusFailed:
		if err := o.idempotency.Reopen(ctx, key, requestHash); err != nil {
			if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
				return domain.OrderResult{}, true, domain.ErrCommitInProgress
			}
			return domain.OrderResult{}, true, fmt.Errorf("%w: reopen idempotency key: %w", domain.ErrPersistenceFailure, err)
		}
		return domain.OrderResult{}, false, nil
	default:
		return domain.OrderResult{}, true, domain.ErrCommitInProgress
	}
}

// settle сохраняет итог попытки. Неуспешные попытки можно повторить.
func (o *Orchestrator) settle(ctx context.Context, key string, result domain.OrderResult, done bool) {
	if key == "" {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.WithError(err).WithField("key", key).Error("marshal commit result failed")
		return
	}
	ctx = context.WithoutCancel(ctx)
	if done {
		err = o.idempotency.MarkDone(ctx, key, payload)
	} else {
		err = o.idempotency.MarkFailed(ctx, key, payload)
	}
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"key":  key,
			"done": done,
		}).Error("failed to settle idempotency key")
	}
}

// compensate возвращает списанный остаток, если заказ не удалось сохранить.
func (o *Orchestrator) compensate(ctx context.Context, orderID string, movements []domain.StockMovement) {
	applied, err := o.ledger.Compensate(context.WithoutCancel(ctx), movements, domain.MovementAdjustment)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("stock compensation failed, manual adjustment required")
		return
	}
	o.metrics.RecordCompensation()
	o.metrics.RecordStockMovements(string(domain.MovementAdjustment), len(applied))
	o.appendTimeline(ctx, orderID, domain.EventCompensated, "order persistence failed")
	o.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"movements": len(applied),
	}).Warn("stock commit compensated")
}

// price фиксирует текущие цены каталога. Неизвестный SKU даёт Rejected.
func (o *Orchestrator) price(ctx context.Context, resolved []domain.ResolvedLine) ([]domain.OrderLine, *domain.OrderResult, error) {
	lines := make([]domain.OrderLine, 0, len(resolved))
	for _, line := range resolved {
		variant, err := o.catalog.BySKU(ctx, line.Variant.SKU)
		if errors.Is(err, domain.ErrVariantNotFound) {
			result := rejected(reasonVariantUnknown)
			return nil, &result, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: price %s: %w", domain.ErrCatalogUnavailable, line.Variant.SKU, err)
		}
		lines = append(lines, domain.OrderLine{
			ID:           uuid.NewString(),
			SKU:          variant.SKU,
			Name:         variant.DisplayName(),
			Quantity:     line.Quantity,
			PriceAtOrder: variant.Price,
		})
	}
	return lines, nil, nil
}

func (o *Orchestrator) available(ctx context.Context, sku string, quantity int64) bool {
	availability, err := o.ledger.Check(ctx, sku, quantity)
	return err == nil && availability.Sufficient
}

// emit кладёт событие в outbox и дублирует его в timeline агрегата.
func (o *Orchestrator) emit(ctx context.Context, aggregateType, aggregateID, eventType, reason string, payload any) {
	ctx = context.WithoutCancel(ctx)
	if o.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"aggregate_id": aggregateID,
				"event":        eventType,
			}).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				EventType:     eventType,
				Payload:       data,
				CreatedAt:     o.now(),
			}
			if _, err := o.outbox.Enqueue(ctx, msg); err != nil {
				o.logger.WithError(err).WithFields(log.Fields{
					"aggregate_id": aggregateID,
					"event":        eventType,
				}).Error("enqueue event failed")
			} else {
				o.metrics.RecordOutboxEvent()
			}
		}
	}
	if aggregateType != domain.AggregateStock {
		o.appendTimeline(ctx, aggregateID, eventType, reason)
	}
}

func (o *Orchestrator) appendTimeline(ctx context.Context, aggregateID, eventType, reason string) {
	if o.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		AggregateID: aggregateID,
		Type:        eventType,
		Reason:      reason,
		Occurred:    o.now(),
	}
	if err := o.timeline.Append(context.WithoutCancel(ctx), event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event":        eventType,
		}).Warn("append timeline event failed")
		return
	}
	o.metrics.RecordTimelineEvent()
}

func rejected(reason string) domain.OrderResult {
	return domain.OrderResult{Kind: domain.ResultRejected, Reason: reason}
}

func partiallyUnavailable(lines []domain.OrderLine, shortages []domain.Shortage) domain.OrderResult {
	short := make(map[string]struct{}, len(shortages))
	for _, s := range shortages {
		short[s.SKU] = struct{}{}
	}
	outcomes := lineOutcomes(lines, true)
	for i := range outcomes {
		if _, ok := short[outcomes[i].SKU]; ok {
			outcomes[i].Available = false
		}
	}
	return domain.OrderResult{
		Kind:      domain.ResultPartiallyUnavailable,
		Total:     domain.LinesTotal(lines),
		Lines:     outcomes,
		Shortages: shortages,
	}
}

func resultLabel(result domain.OrderResult, err error) string {
	if err != nil {
		return "error"
	}
	return string(result.Kind)
}

// hashOrder: отпечаток содержимого заказа без сгенерированных идентификаторов.
func hashOrder(order domain.Order) string {
	lines := append([]domain.OrderLine(nil), order.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|", order.CustomerEmail, order.Delivery, order.QuoteID)
	if order.DeliveryAddress != nil {
		b.WriteString(order.DeliveryAddress.String())
	}
	for _, line := range lines {
		fmt.Fprintf(&b, "|%s:%d:%s", line.SKU, line.Quantity, line.PriceAtOrder.String())
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
