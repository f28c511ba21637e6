package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ зафиксирован, остаток списан.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing: заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён, остаток возвращён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода статуса.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine: позиция заказа или сметы с замороженной ценой.
type OrderLine struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Quantity     int64           `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order"`
}

// Subtotal возвращает quantity × price_at_order.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.PriceAtOrder.Mul(decimal.NewFromInt(l.Quantity))
}

// LinesTotal суммирует позиции.
func LinesTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Order: зафиксированный заказ.
type Order struct {
	ID              string
	SessionID       string
	QuoteID         string
	CustomerEmail   string
	Delivery        DeliveryMethod
	DeliveryAddress *Address
	BillingAddress  *Address
	Status          OrderStatus
	Total           decimal.Decimal
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QuoteStatus описывает жизненный цикл сметы.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
	QuoteStatusExpired  QuoteStatus = "expired"
)

// Valid проверяет, что статус сметы известен.
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusPending, QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		return true
	default:
		return false
	}
}

// Quote описывает смету. Цены заморожены, склад не затрагивается.
type Quote struct {
	ID              string
	SessionID       string
	CustomerEmail   string
	Delivery        DeliveryMethod
	DeliveryAddress *Address
	Status          QuoteStatus
	Total           decimal.Decimal
	Lines           []OrderLine
	OrderID         string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired сообщает, что срок сметы истёк к моменту now.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// ResolvedLine: однозначная позиция готового к фиксации запроса.
type ResolvedLine struct {
	Variant  Variant
	Quantity int64
}

// ResolvedIntent: единственный артефакт, который принимает оркестратор.
type ResolvedIntent struct {
	SessionID       string
	Kind            RequestKind
	CustomerEmail   string
	Delivery        DeliveryMethod
	DeliveryAddress *Address
	BillingAddress  *Address
	Lines           []ResolvedLine
}

// Validate проверяет полноту запроса перед фиксацией.
func (r ResolvedIntent) Validate() error {
	if len(r.Lines) == 0 {
		return ErrLinesRequired
	}
	if _, err := ValidateEmail(r.CustomerEmail); err != nil {
		return err
	}
	for _, line := range r.Lines {
		if line.Variant.SKU == "" {
			return ErrSKURequired
		}
		if line.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	if r.Delivery == DeliveryShipping {
		if r.DeliveryAddress == nil {
			return ErrInvalidAddress
		}
		if err := r.DeliveryAddress.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResultKind: вид результата фиксации.
type ResultKind string

const (
	ResultCommitted            ResultKind = "committed"
	ResultPartiallyUnavailable ResultKind = "partially_unavailable"
	ResultRejected             ResultKind = "rejected"
)

// LineOutcome: итог по одной позиции зафиксированного заказа или сметы.
type LineOutcome struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

// OrderResult: результат Commit/Quote.
type OrderResult struct {
	Kind      ResultKind      `json:"kind"`
	OrderID   string          `json:"order_id,omitempty"`
	QuoteID   string          `json:"quote_id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Lines     []LineOutcome   `json:"lines,omitempty"`
	Shortages []Shortage      `json:"shortages,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
}

// Preview оценивает запрос без изменения остатков; текущие цены и доступность.
type Preview struct {
	Lines     []LineOutcome   `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Shortages []Shortage      `json:"shortages,omitempty"`
}

// Fulfillable сообщает, что все позиции есть в наличии.
func (p Preview) Fulfillable() bool {
	return len(p.Shortages) == 0
}
