package domain

import (
	"context"
	"time"
)

// CatalogReader: read-модель каталога.
type CatalogReader interface {
	// BySKU возвращает вариант или ErrVariantNotFound.
	BySKU(ctx context.Context, sku string) (Variant, error)
	// Variants возвращает снимок всех продаваемых вариантов.
	Variants(ctx context.Context) ([]Variant, error)
}

// StockLedger: единственная точка изменения остатков.
type StockLedger interface {
	// Check: неблокирующая проверка без изменения остатка.
	Check(ctx context.Context, sku string, quantity int64) (Availability, error)
	// CommitAll списывает все позиции атомарно: либо все, либо ни одной.
	CommitAll(ctx context.Context, lines []StockLine) (CommitOutcome, error)
	// Restock добавляет положительное движение.
	Restock(ctx context.Context, sku string, quantity int64, reason MovementReason) (StockMovement, error)
	// Compensate добавляет движения, противоположные переданным.
	Compensate(ctx context.Context, movements []StockMovement, reason MovementReason) ([]StockMovement, error)
	Level(ctx context.Context, sku string) (StockLevel, error)
	Movements(ctx context.Context, sku string) ([]StockMovement, error)
}

// InferenceClient: подключаемая языковая модель.
type InferenceClient interface {
	Infer(ctx context.Context, prompt, model string) (string, error)
}

// SessionStore хранит сессии между репликами.
type SessionStore interface {
	// Get возвращает сессию или ErrSessionNotFound.
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, session Session) error
	Delete(ctx context.Context, id string) error
	// ListIdle возвращает сессии без активности с момента before.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]Session, error)
}

// CustomerDirectory: справочник адресов клиентов.
type CustomerDirectory interface {
	// Lookup возвращает клиента; ok == false, если клиент неизвестен.
	Lookup(ctx context.Context, email string) (Customer, bool, error)
	Remember(ctx context.Context, email string, address Address) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	ListByCustomer(ctx context.Context, email string, limit int) ([]Order, error)
	// UpdateStatus меняет только статус и updated_at.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
}

// QuoteRepository описывает хранилище смет.
type QuoteRepository interface {
	Create(ctx context.Context, quote Quote) error
	// Get возвращает смету или ErrQuoteNotFound.
	Get(ctx context.Context, id string) (Quote, error)
	// UpdateStatus меняет статус и, при принятии, ссылку на заказ.
	UpdateStatus(ctx context.Context, id string, status QuoteStatus, orderID string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказов и смет.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, aggregateID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние фиксаций по ключу.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Reopen переводит failed-запись обратно в processing для повторной попытки.
	Reopen(ctx context.Context, key, requestHash string) error
	MarkDone(ctx context.Context, key string, result []byte) error
	MarkFailed(ctx context.Context, key string, result []byte) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
