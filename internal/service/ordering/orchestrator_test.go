package ordering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

var (
	rosier = domain.Variant{
		SKU: "ROS-001", ProductID: "ROS", ProductName: "Rosier", Name: "Rosier Rouge",
		Price: decimal.RequireFromString("12.50"),
	}
	engraisUniversel = domain.Variant{
		SKU: "ENG-001", ProductID: "ENG", ProductName: "Engrais", Name: "Engrais Universel",
		Price: decimal.RequireFromString("8.90"),
	}
	bulbe = domain.Variant{
		SKU: "BUL-001", ProductID: "BUL", ProductName: "Bulbe", Name: "Bulbe de Tulipe",
		Price: decimal.RequireFromString("0.80"),
	}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingOrders struct {
	domain.OrderRepository
	mu      sync.Mutex
	creates int
}

func (f *failingOrders) Create(context.Context, domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return errors.New("disk full")
}

type failingCompensation struct {
	domain.StockLedger
}

func (failingCompensation) Compensate(context.Context, []domain.StockMovement, domain.MovementReason) ([]domain.StockMovement, error) {
	return nil, errors.New("ledger unreachable")
}

type fixture struct {
	catalog     *memory.Catalog
	ledger      *memory.StockLedger
	orders      domain.OrderRepository
	quotes      domain.QuoteRepository
	outbox      *memory.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	clock       *fakeClock
	orch        *Orchestrator
}

func newFixture(t *testing.T, orders domain.OrderRepository) *fixture {
	t.Helper()
	if orders == nil {
		orders = memory.NewOrderRepository()
	}
	f := &fixture{
		catalog: memory.NewCatalog(rosier, engraisUniversel, bulbe),
		ledger: memory.NewStockLedger(
			domain.StockLevel{SKU: "ROS-001", Quantity: 50},
			domain.StockLevel{SKU: "ENG-001", Quantity: 12},
			domain.StockLevel{SKU: "BUL-001", Quantity: 0},
		),
		orders:      orders,
		quotes:      memory.NewQuoteRepository(),
		outbox:      memory.NewOutboxRepository(),
		timeline:    memory.NewTimelineRepository(),
		idempotency: memory.NewIdempotencyRepository(),
		clock:       &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.orch = NewOrchestrator(f.catalog, f.ledger, f.orders, f.quotes,
		WithOutbox(f.outbox),
		WithTimeline(f.timeline),
		WithIdempotency(f.idempotency),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) level(t *testing.T, sku string) int64 {
	t.Helper()
	level, err := f.ledger.Level(context.Background(), sku)
	require.NoError(t, err)
	return level.Quantity
}

func (f *fixture) movements(t *testing.T, sku string) []domain.StockMovement {
	t.Helper()
	movements, err := f.ledger.Movements(context.Background(), sku)
	require.NoError(t, err)
	return movements
}

func (f *fixture) events(eventType string) []domain.OutboxMessage {
	var out []domain.OutboxMessage
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func request(kind domain.RequestKind, lines ...domain.ResolvedLine) domain.ResolvedIntent {
	return domain.ResolvedIntent{
		SessionID:     "s-1",
		Kind:          kind,
		CustomerEmail: "jean@example.fr",
		Delivery:      domain.DeliveryPickup,
		Lines:         lines,
	}
}

func line(v domain.Variant, quantity int64) domain.ResolvedLine {
	return domain.ResolvedLine{Variant: v, Quantity: quantity}
}

func TestCommitDecrementsStockAndPersistsOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 10)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)
	require.NotEmpty(t, result.OrderID)
	require.Equal(t, "125.00", result.Total.StringFixed(2))

	require.EqualValues(t, 40, f.level(t, "ROS-001"))
	movements := f.movements(t, "ROS-001")
	require.Len(t, movements, 2)
	last := movements[1]
	require.EqualValues(t, -10, last.Delta)
	require.Equal(t, domain.MovementOrderFulfillment, last.Reason)
	require.Equal(t, result.OrderID, last.CorrelationID)

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Lines, 1)
	require.Equal(t, last.OrderLineID, order.Lines[0].ID)
	require.True(t, order.Lines[0].PriceAtOrder.Equal(decimal.RequireFromString("12.50")))

	require.Len(t, f.events(domain.EventOrderCommitted), 1)
	timeline, err := f.timeline.List(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, domain.EventOrderCommitted, timeline[0].Type)
}

func TestCommitInsufficientLeavesAllLevelsUnchanged(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Commit(context.Background(), request(domain.RequestOrder, line(rosier, 10), line(engraisUniversel, 13)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultPartiallyUnavailable, result.Kind)
	require.Equal(t, []domain.Shortage{{SKU: "ENG-001", Requested: 13, Available: 12}}, result.Shortages)
	require.True(t, result.Lines[0].Available)
	require.False(t, result.Lines[1].Available)

	require.EqualValues(t, 50, f.level(t, "ROS-001"))
	require.EqualValues(t, 12, f.level(t, "ENG-001"))
	require.Len(t, f.movements(t, "ROS-001"), 1)
	require.Empty(t, f.events(domain.EventOrderCommitted))
}

func TestCommitReplaysSameKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ri := request(domain.RequestOrder, line(rosier, 10))

	first, err := f.orch.Commit(ctx, ri, "commit:s-1")
	require.NoError(t, err)
	second, err := f.orch.Commit(ctx, ri, "commit:s-1")
	require.NoError(t, err)

	require.Equal(t, first.OrderID, second.OrderID)
	require.EqualValues(t, 40, f.level(t, "ROS-001"))
	require.Len(t, f.events(domain.EventOrderCommitted), 1)
}

func TestCommitRetriesAfterShortage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ri := request(domain.RequestOrder, line(rosier, 60))

	result, err := f.orch.Commit(ctx, ri, "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultPartiallyUnavailable, result.Kind)

	_, err = f.ledger.Restock(ctx, "ROS-001", 20, domain.MovementRestock)
	require.NoError(t, err)

	result, err = f.orch.Commit(ctx, ri, "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)
	require.EqualValues(t, 10, f.level(t, "ROS-001"))
}

func TestCommitReducedLinesUseNewKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 60)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultPartiallyUnavailable, result.Kind)

	result, err = f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 50)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)
	require.EqualValues(t, 0, f.level(t, "ROS-001"))
}

func TestCommitCompensatesWhenOrderNotPersisted(t *testing.T) {
	orders := &failingOrders{OrderRepository: memory.NewOrderRepository()}
	f := newFixture(t, orders)
	ctx := context.Background()

	_, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 10), line(engraisUniversel, 2)), "commit:s-1")
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.True(t, domain.IsRetryable(err))
	require.Equal(t, 1, orders.creates)

	require.EqualValues(t, 50, f.level(t, "ROS-001"))
	require.EqualValues(t, 12, f.level(t, "ENG-001"))

	movements := f.movements(t, "ROS-001")
	require.Len(t, movements, 3)
	require.EqualValues(t, -10, movements[1].Delta)
	require.EqualValues(t, 10, movements[2].Delta)
	require.Equal(t, domain.MovementAdjustment, movements[2].Reason)
	require.Equal(t, movements[1].CorrelationID, movements[2].CorrelationID)

	timeline, err := f.timeline.List(ctx, movements[1].CorrelationID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, domain.EventCompensated, timeline[0].Type)
	require.Empty(t, f.events(domain.EventOrderCommitted))

	record, err := f.idempotency.Get(ctx, "commit:s-1:"+hashOrder(domain.Order{
		CustomerEmail: "jean@example.fr",
		Delivery:      domain.DeliveryPickup,
		Lines: []domain.OrderLine{
			{SKU: "ROS-001", Quantity: 10, PriceAtOrder: rosier.Price},
			{SKU: "ENG-001", Quantity: 2, PriceAtOrder: engraisUniversel.Price},
		},
	})[:16])
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	results := make([]domain.OrderResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ri := request(domain.RequestOrder, line(rosier, 30))
			ri.SessionID = []string{"s-a", "s-b"}[i]
			results[i], errs[i] = f.orch.Commit(context.Background(), ri, "commit:"+ri.SessionID)
		}(i)
	}
	wg.Wait()

	committed, short := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		switch results[i].Kind {
		case domain.ResultCommitted:
			committed++
		case domain.ResultPartiallyUnavailable:
			short++
			require.EqualValues(t, 20, results[i].Shortages[0].Available)
		}
	}
	require.Equal(t, 1, committed)
	require.Equal(t, 1, short)
	require.EqualValues(t, 20, f.level(t, "ROS-001"))
}

func TestCommitEmitsLowStockEvent(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Commit(context.Background(), request(domain.RequestOrder, line(engraisUniversel, 3)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)

	low := f.events(domain.EventStockLow)
	require.Len(t, low, 1)
	require.Equal(t, "ENG-001", low[0].AggregateID)
	require.JSONEq(t, `{"sku":"ENG-001","quantity":9,"alert_threshold":10,"ts":"2026-05-01T10:00:00Z"}`, string(low[0].Payload))
}

func TestCommitRejectsUnknownOrInvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	unknown := domain.Variant{SKU: "NOPE-1", Price: decimal.NewFromInt(1)}
	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(unknown, 1)), "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultRejected, result.Kind)

	ri := request(domain.RequestOrder, line(rosier, 1))
	ri.CustomerEmail = "pas-un-email"
	result, err = f.orch.Commit(ctx, ri, "commit:s-1")
	require.NoError(t, err)
	require.Equal(t, domain.ResultRejected, result.Kind)
	require.EqualValues(t, 50, f.level(t, "ROS-001"))
}

func TestQuoteFreezesPricesWithoutStockMovement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Quote(ctx, request(domain.RequestQuote, line(rosier, 5)))
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)
	require.NotEmpty(t, result.QuoteID)
	require.Empty(t, result.OrderID)
	require.Equal(t, "62.50", result.Total.StringFixed(2))
	require.True(t, result.Lines[0].Available)
	require.Equal(t, f.clock.Now().Add(DefaultQuoteValidity), result.ExpiresAt)

	require.EqualValues(t, 50, f.level(t, "ROS-001"))
	require.Len(t, f.movements(t, "ROS-001"), 1)

	quote, err := f.quotes.Get(ctx, result.QuoteID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteStatusPending, quote.Status)
	require.Len(t, f.events(domain.EventQuoteCreated), 1)
}

func TestAcceptQuoteKeepsFrozenPrices(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	quoted, err := f.orch.Quote(ctx, request(domain.RequestQuote, line(rosier, 5)))
	require.NoError(t, err)

	repriced := rosier
	repriced.Price = decimal.RequireFromString("15.00")
	f.catalog.ReplaceVariants([]domain.Variant{repriced, engraisUniversel, bulbe})

	result, err := f.orch.AcceptQuote(ctx, quoted.QuoteID)
	require.NoError(t, err)
	require.Equal(t, domain.ResultCommitted, result.Kind)
	require.Equal(t, "62.50", result.Total.StringFixed(2))
	require.Equal(t, quoted.QuoteID, result.QuoteID)
	require.EqualValues(t, 45, f.level(t, "ROS-001"))

	quote, err := f.quotes.Get(ctx, quoted.QuoteID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteStatusAccepted, quote.Status)
	require.Equal(t, result.OrderID, quote.OrderID)

	_, err = f.orch.AcceptQuote(ctx, quoted.QuoteID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAcceptExpiredQuote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	quoted, err := f.orch.Quote(ctx, request(domain.RequestQuote, line(rosier, 5)))
	require.NoError(t, err)
	f.clock.Advance(DefaultQuoteValidity + time.Minute)

	_, err = f.orch.AcceptQuote(ctx, quoted.QuoteID)
	require.ErrorIs(t, err, domain.ErrQuoteExpired)
	require.EqualValues(t, 50, f.level(t, "ROS-001"))

	quote, err := f.quotes.Get(ctx, quoted.QuoteID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteStatusExpired, quote.Status)
}

func TestRejectQuote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	quoted, err := f.orch.Quote(ctx, request(domain.RequestQuote, line(rosier, 5)))
	require.NoError(t, err)

	require.NoError(t, f.orch.RejectQuote(ctx, quoted.QuoteID, "trop cher"))
	require.ErrorIs(t, f.orch.RejectQuote(ctx, quoted.QuoteID, ""), domain.ErrInvalidTransition)
	require.ErrorIs(t, f.orch.RejectQuote(ctx, "missing", ""), domain.ErrQuoteNotFound)

	timeline, err := f.timeline.List(ctx, quoted.QuoteID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, domain.EventQuoteRejected, timeline[1].Type)
	require.Equal(t, "trop cher", timeline[1].Reason)
}

func TestCancelOrderReturnsStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 10)), "commit:s-1")
	require.NoError(t, err)

	require.NoError(t, f.orch.CancelOrder(ctx, result.OrderID, "client"))
	require.EqualValues(t, 50, f.level(t, "ROS-001"))

	movements := f.movements(t, "ROS-001")
	require.Len(t, movements, 3)
	require.Equal(t, domain.MovementReturn, movements[2].Reason)
	require.EqualValues(t, 10, movements[2].Delta)
	require.Equal(t, result.OrderID, movements[2].CorrelationID)

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.Len(t, f.events(domain.EventOrderCancelled), 1)

	require.ErrorIs(t, f.orch.CancelOrder(ctx, result.OrderID, ""), domain.ErrInvalidTransition)
}

func TestCancelOrderRecordsFailedStockReturn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 10)), "commit:s-1")
	require.NoError(t, err)

	orch := NewOrchestrator(f.catalog, failingCompensation{StockLedger: f.ledger}, f.orders, f.quotes,
		WithOutbox(f.outbox),
		WithTimeline(f.timeline),
		WithClock(f.clock.Now),
	)
	err = orch.CancelOrder(ctx, result.OrderID, "client")
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.EqualValues(t, 40, f.level(t, "ROS-001"))

	required := f.events(domain.EventCompensationRequired)
	require.Len(t, required, 1)
	require.Equal(t, result.OrderID, required[0].AggregateID)
	require.Contains(t, string(required[0].Payload), `"sku":"ROS-001"`)
	require.Contains(t, string(required[0].Payload), "ledger unreachable")
	require.Empty(t, f.events(domain.EventOrderCancelled))

	timeline, err := f.timeline.List(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.EventCompensationRequired, timeline[len(timeline)-1].Type)
}

func TestAdvanceOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.orch.Commit(ctx, request(domain.RequestOrder, line(rosier, 1)), "commit:s-1")
	require.NoError(t, err)

	require.NoError(t, f.orch.AdvanceOrder(ctx, result.OrderID, domain.OrderStatusProcessing))
	require.ErrorIs(t, f.orch.AdvanceOrder(ctx, result.OrderID, domain.OrderStatusDelivered), domain.ErrInvalidTransition)
	require.NoError(t, f.orch.AdvanceOrder(ctx, result.OrderID, domain.OrderStatusShipped))
	require.ErrorIs(t, f.orch.AdvanceOrder(ctx, result.OrderID, domain.OrderStatusCancelled), domain.ErrInvalidTransition)
	require.NoError(t, f.orch.AdvanceOrder(ctx, result.OrderID, domain.OrderStatusDelivered))

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, order.Status)
	require.EqualValues(t, 49, f.level(t, "ROS-001"))
}

func TestPreviewReportsShortagesWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)

	preview, err := f.orch.Preview(context.Background(), request(domain.RequestOrder, line(rosier, 60), line(bulbe, 4)))
	require.NoError(t, err)
	require.False(t, preview.Fulfillable())
	require.Equal(t, "753.20", preview.Total.StringFixed(2))
	require.Equal(t, []domain.Shortage{
		{SKU: "ROS-001", Requested: 60, Available: 50},
		{SKU: "BUL-001", Requested: 4, Available: 0},
	}, preview.Shortages)
	require.False(t, preview.Lines[0].Available)
	require.EqualValues(t, 50, f.level(t, "ROS-001"))
	require.Len(t, f.movements(t, "ROS-001"), 1)
}
