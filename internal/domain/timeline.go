package domain

import "time"

// Типы событий timeline и outbox.
const (
	EventOrderCommitted       = "order.committed"
	EventOrderCancelled       = "order.cancelled"
	EventOrderAdvanced        = "order.status_changed"
	EventCompensationRequired = "order.compensation_required"
	EventQuoteCreated         = "quote.created"
	EventQuoteAccepted        = "quote.accepted"
	EventQuoteRejected        = "quote.rejected"
	EventQuoteExpired         = "quote.expired"
	EventStockLow             = "stock.low"
	EventCompensated          = "stock.compensated"
)

// Типы агрегатов outbox.
const (
	AggregateOrder = "order"
	AggregateQuote = "quote"
	AggregateStock = "stock"
)

// TimelineEvent описывает событие в жизненном цикле заказа или сметы.
type TimelineEvent struct {
	AggregateID string
	Type        string
	Reason      string
	Occurred    time.Time
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
