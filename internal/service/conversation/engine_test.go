package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/service/intent"
	"github.com/vladislavdragonenkov/intake/internal/service/ordering"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

// scriptedModel отвечает заготовленным JSON на известные реплики.
type scriptedModel struct {
	mu      sync.Mutex
	replies map[string]string
	answer  string
	err     error
	calls   int
}

func (m *scriptedModel) Infer(_ context.Context, prompt, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if strings.HasPrefix(prompt, "L'utilisateur demande") {
		return m.answer, nil
	}
	for utterance, reply := range m.replies {
		if strings.Contains(prompt, `Demande Utilisateur: "`+utterance+`"`) {
			return reply, nil
		}
	}
	return `{"intent": "inconnu"}`, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	engine    *Engine
	model     *scriptedModel
	store     *memory.SessionStore
	ledger    *memory.StockLedger
	customers *memory.CustomerDirectory
	orders    domain.OrderRepository
	quotes    domain.QuoteRepository
	clock     *testClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	return newEngineFixtureWith(t, nil)
}

// newEngineFixtureWith позволяет обернуть модель, например чтобы задержать вызов.
func newEngineFixtureWith(t *testing.T, wrap func(domain.InferenceClient) domain.InferenceClient) *engineFixture {
	t.Helper()
	variants := memory.NewCatalog(rosier, engraisUniversel, engraisGazon)
	f := &engineFixture{
		model: &scriptedModel{
			replies: map[string]string{
				"je veux 10 rosiers":                 "```json\n{\"intent\": \"demande_produits\", \"items\": [{\"base_product\": \"rosier\", \"quantity\": 10}]}\n```",
				"je veux 60 rosiers":                 `{"intent": "demande_produits", "items": [{"base_product": "rosier", "quantity": 60}]}`,
				"je veux 30 rosiers":                 `{"intent": "demande_produits", "items": [{"base_product": "rosier", "quantity": 30}]}`,
				"un devis pour 5 rosiers":            `{"intent": "creer_devis", "items": [{"base_product": "rosier", "quantity": 5}]}`,
				"il me faut de l'engrais":            `{"intent": "demande_produits", "items": [{"base_product": "engrais", "quantity": null}]}`,
				"quand faut-il tailler les rosiers ?": `{"intent": "info_generale", "items": []}`,
			},
			answer: "La taille se fait en fin d'hiver.",
		},
		store: memory.NewSessionStore(),
		ledger: memory.NewStockLedger(
			domain.StockLevel{SKU: "ROS-001", Quantity: 50},
			domain.StockLevel{SKU: "ENG-001", Quantity: 20},
			domain.StockLevel{SKU: "ENG-002", Quantity: 20},
		),
		customers: memory.NewCustomerDirectory(),
		orders:    memory.NewOrderRepository(),
		quotes:    memory.NewQuoteRepository(),
		clock:     &testClock{now: t0},
	}
	orch := ordering.NewOrchestrator(variants, f.ledger, f.orders, f.quotes,
		ordering.WithIdempotency(memory.NewIdempotencyRepository()),
	)
	var client domain.InferenceClient = f.model
	if wrap != nil {
		client = wrap(f.model)
	}
	f.engine = NewEngine(f.store, intent.NewExtractor(client), catalog.NewResolver(variants), orch,
		WithCustomers(f.customers),
		WithClock(f.clock.Now),
	)
	return f
}

// gatedModel задерживает вызовы с заданной репликой до закрытия release.
type gatedModel struct {
	domain.InferenceClient
	utterance string
	entered   chan struct{}
	release   chan struct{}
}

func (m *gatedModel) Infer(ctx context.Context, prompt, model string) (string, error) {
	if strings.Contains(prompt, `"`+m.utterance+`"`) {
		close(m.entered)
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.InferenceClient.Infer(ctx, prompt, model)
}

func (f *engineFixture) say(t *testing.T, sessionID, utterance string) Reply {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), sessionID, utterance)
	require.NoError(t, err)
	require.Equal(t, sessionID, reply.SessionID)
	f.clock.Advance(time.Minute)
	return reply
}

func (f *engineFixture) level(t *testing.T, sku string) int64 {
	t.Helper()
	level, err := f.ledger.Level(context.Background(), sku)
	require.NoError(t, err)
	return level.Quantity
}

func TestEngineOrderScenario(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.say(t, "s-1", "je veux 10 rosiers")
	require.Equal(t, domain.StateAwaitingIdentity, reply.State)
	require.Contains(t, reply.Message, "10 × Rosier Rouge")

	reply = f.say(t, "s-1", "jean.dupont@example.fr")
	require.Equal(t, domain.StateAwaitingAddress, reply.State)

	reply = f.say(t, "s-1", "12 rue des Lilas, 75011 Paris")
	require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
	require.True(t, reply.OrderActionAvailable)
	require.Contains(t, reply.Message, "Total : 125,00 €")
	require.EqualValues(t, 50, f.level(t, "ROS-001"))

	reply = f.say(t, "s-1", "oui")
	require.Equal(t, domain.StateCompleted, reply.State)
	require.NotEmpty(t, reply.OrderID)
	require.False(t, reply.OrderActionAvailable)
	require.NotContains(t, reply.Message, reply.OrderID)

	require.EqualValues(t, 40, f.level(t, "ROS-001"))
	movements, err := f.ledger.Movements(context.Background(), "ROS-001")
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.EqualValues(t, -10, movements[1].Delta)
	require.Equal(t, domain.MovementOrderFulfillment, movements[1].Reason)

	order, err := f.orders.Get(context.Background(), reply.OrderID)
	require.NoError(t, err)
	require.Equal(t, "jean.dupont@example.fr", order.CustomerEmail)
	require.Equal(t, lilas, *order.DeliveryAddress)

	require.Zero(t, f.store.Len())
	customer, ok, err := f.customers.Lookup(context.Background(), "jean.dupont@example.fr")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []domain.Address{lilas}, customer.Addresses)

	// Следующий заказ того же клиента берёт адрес из справочника.
	f.say(t, "s-2", "je veux 10 rosiers")
	reply = f.say(t, "s-2", "jean.dupont@example.fr")
	require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
	require.Contains(t, reply.Message, "12 rue des Lilas, 75011 Paris")
}

func TestEngineAmbiguousItemDoesNotTouchStock(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.say(t, "s-1", "il me faut de l'engrais")
	require.Equal(t, domain.StateDisambiguating, reply.State)
	require.Contains(t, reply.Message, "1. Engrais Universel (ENG-001)")
	require.Contains(t, reply.Message, "2. Engrais Gazon (ENG-002)")
	require.EqualValues(t, 20, f.level(t, "ENG-001"))
	require.EqualValues(t, 20, f.level(t, "ENG-002"))

	calls := f.model.calls
	reply = f.say(t, "s-1", "le deuxième")
	require.Equal(t, domain.StateAwaitingQuantity, reply.State)
	reply = f.say(t, "s-1", "3")
	require.Equal(t, domain.StateAwaitingIdentity, reply.State)
	require.Equal(t, calls, f.model.calls)
	require.EqualValues(t, 20, f.level(t, "ENG-002"))
}

func TestEngineQuoteDoesNotTouchStock(t *testing.T) {
	f := newEngineFixture(t)

	f.say(t, "s-1", "un devis pour 5 rosiers")
	f.say(t, "s-1", "jean@example.fr")
	reply := f.say(t, "s-1", "retrait en magasin")
	require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
	require.Contains(t, reply.Message, "Total : 62,50 €")

	reply = f.say(t, "s-1", "oui")
	require.Equal(t, domain.StateCompleted, reply.State)
	require.NotEmpty(t, reply.QuoteID)
	require.Empty(t, reply.OrderID)
	require.Contains(t, reply.Message, "62,50 €")

	require.EqualValues(t, 50, f.level(t, "ROS-001"))
	movements, err := f.ledger.Movements(context.Background(), "ROS-001")
	require.NoError(t, err)
	require.Len(t, movements, 1)

	quote, err := f.quotes.Get(context.Background(), reply.QuoteID)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteStatusPending, quote.Status)
}

func TestEngineBackorderOffer(t *testing.T) {
	f := newEngineFixture(t)

	f.say(t, "s-1", "je veux 60 rosiers")
	f.say(t, "s-1", "jean@example.fr")
	reply := f.say(t, "s-1", "retrait")
	require.Contains(t, reply.Message, "stock insuffisant pour Rosier Rouge (50 disponibles)")

	reply = f.say(t, "s-1", "oui")
	require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
	require.Contains(t, reply.Message, "Rosier Rouge : 60 demandés, 50 disponibles")
	require.EqualValues(t, 50, f.level(t, "ROS-001"))

	reply = f.say(t, "s-1", "oui")
	require.Equal(t, domain.StateCompleted, reply.State)
	require.EqualValues(t, 0, f.level(t, "ROS-001"))

	order, err := f.orders.Get(context.Background(), reply.OrderID)
	require.NoError(t, err)
	require.EqualValues(t, 50, order.Lines[0].Quantity)
}

func TestEngineConcurrentConfirmationsNeverOversell(t *testing.T) {
	f := newEngineFixture(t)

	for _, id := range []string{"s-a", "s-b"} {
		f.say(t, id, "je veux 30 rosiers")
		f.say(t, id, "jean@example.fr")
		reply := f.say(t, id, "retrait")
		require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
	}

	var wg sync.WaitGroup
	replies := make([]Reply, 2)
	for i, id := range []string{"s-a", "s-b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			reply, err := f.engine.Handle(context.Background(), id, "oui")
			if err == nil {
				replies[i] = reply
			}
		}(i, id)
	}
	wg.Wait()

	completed := 0
	for _, reply := range replies {
		if reply.State == domain.StateCompleted {
			completed++
			continue
		}
		require.Equal(t, domain.StateAwaitingConfirmation, reply.State)
		require.Contains(t, reply.Message, "30 demandés, 20 disponibles")
	}
	require.Equal(t, 1, completed)
	require.EqualValues(t, 20, f.level(t, "ROS-001"))
}

func TestEngineGeneralQuestion(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.say(t, "s-1", "quand faut-il tailler les rosiers ?")
	require.Equal(t, domain.StateIdle, reply.State)
	require.True(t, strings.HasPrefix(reply.Message, "La taille se fait en fin d'hiver."))
}

func TestEngineInferenceUnavailable(t *testing.T) {
	f := newEngineFixture(t)
	f.model.err = errors.New("connection refused")

	reply := f.say(t, "s-1", "je veux 10 rosiers")
	require.Equal(t, domain.StateIdle, reply.State)
	require.Equal(t, replyRetry, reply.Message)

	f.model.err = nil
	reply = f.say(t, "s-1", "je veux 10 rosiers")
	require.Equal(t, domain.StateAwaitingIdentity, reply.State)
}

func TestEngineExpireIdle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.say(t, "s-1", "je veux 10 rosiers")
	f.say(t, "s-2", "je veux 30 rosiers")
	f.clock.Advance(10 * time.Minute)
	f.say(t, "s-2", "jean@example.fr")
	f.clock.Advance(5 * time.Minute)

	expired, err := f.engine.ExpireIdle(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, 1, f.store.Len())
	_, err = f.store.Get(ctx, "s-1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.EqualValues(t, 50, f.level(t, "ROS-001"))
}

func TestEngineExpiredSessionRestarts(t *testing.T) {
	f := newEngineFixture(t)

	f.say(t, "s-1", "je veux 10 rosiers")
	f.clock.Advance(time.Hour)

	reply := f.say(t, "s-1", "jean@example.fr")
	require.True(t, strings.HasPrefix(reply.Message, replyExpired))
	require.NotEqual(t, domain.StateAwaitingAddress, reply.State)
	require.EqualValues(t, 50, f.level(t, "ROS-001"))
}

func TestEngineCancel(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.say(t, "s-1", "je veux 10 rosiers")
	reply, err := f.engine.Cancel(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateCancelled, reply.State)
	require.Zero(t, f.store.Len())

	_, err = f.engine.Cancel(ctx, "")
	require.ErrorIs(t, err, domain.ErrSessionIDRequired)
	_, err = f.engine.Cancel(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngineGeneratesSessionID(t *testing.T) {
	f := newEngineFixture(t)

	reply, err := f.engine.Converse(context.Background(), Turn{Utterance: "bonjour", Model: "llama3"})
	require.NoError(t, err)
	require.NotEmpty(t, reply.SessionID)

	session, err := f.store.Get(context.Background(), reply.SessionID)
	require.NoError(t, err)
	require.Equal(t, "llama3", session.Model)
}

func TestEngineSessionsDoNotBlockEachOther(t *testing.T) {
	gate := &gatedModel{
		utterance: "je veux 60 rosiers",
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	f := newEngineFixtureWith(t, func(inner domain.InferenceClient) domain.InferenceClient {
		gate.InferenceClient = inner
		return gate
	})
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := f.engine.Handle(ctx, "sess-a", "je veux 60 rosiers")
		slow <- err
	}()
	<-gate.entered

	fast := make(chan Reply, 1)
	go func() {
		reply, err := f.engine.Handle(ctx, "sess-41", "je veux 10 rosiers")
		if err == nil {
			fast <- reply
		}
	}()

	select {
	case reply := <-fast:
		require.Equal(t, domain.StateAwaitingIdentity, reply.State)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("turn in another session waited for a blocked inference call")
	}

	close(gate.release)
	require.NoError(t, <-slow)

	f.engine.locksMu.Lock()
	defer f.engine.locksMu.Unlock()
	require.Empty(t, f.engine.locks)
}
