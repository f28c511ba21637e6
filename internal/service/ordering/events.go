package ordering

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// EventLine: позиция в событиях заказа и сметы.
type EventLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderCommittedEvent потребляют уведомления (письмо, PDF).
type OrderCommittedEvent struct {
	OrderID         string                `json:"order_id"`
	QuoteID         string                `json:"quote_id,omitempty"`
	SessionID       string                `json:"session_id,omitempty"`
	CustomerEmail   string                `json:"customer_email"`
	Delivery        domain.DeliveryMethod `json:"delivery"`
	DeliveryAddress *domain.Address       `json:"delivery_address,omitempty"`
	Lines           []EventLine           `json:"lines"`
	Total           decimal.Decimal       `json:"total"`
	CommittedAt     time.Time             `json:"committed_at"`
}

// QuoteCreatedEvent: смета готова к отправке клиенту.
type QuoteCreatedEvent struct {
	QuoteID       string          `json:"quote_id"`
	SessionID     string          `json:"session_id,omitempty"`
	CustomerEmail string          `json:"customer_email"`
	Lines         []EventLine     `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// StatusChangedEvent: смена статуса заказа или сметы.
type StatusChangedEvent struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	TS     time.Time `json:"ts"`
}

// CompensationRequiredEvent: заказ отменён, но остаток не вернулся на склад.
// Lines перечисляет позиции, которые нужно вернуть вручную или повтором.
type CompensationRequiredEvent struct {
	OrderID string      `json:"order_id"`
	Lines   []EventLine `json:"lines"`
	Error   string      `json:"error"`
	TS      time.Time   `json:"ts"`
}

// StockLowEvent: остаток достиг порога оповещения.
type StockLowEvent struct {
	SKU            string    `json:"sku"`
	Quantity       int64     `json:"quantity"`
	AlertThreshold int64     `json:"alert_threshold"`
	TS             time.Time `json:"ts"`
}

func eventLines(lines []domain.OrderLine) []EventLine {
	out := make([]EventLine, len(lines))
	for i, line := range lines {
		out[i] = EventLine{
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.PriceAtOrder,
			Subtotal:  line.Subtotal(),
		}
	}
	return out
}

func lineOutcomes(lines []domain.OrderLine, available bool) []domain.LineOutcome {
	out := make([]domain.LineOutcome, len(lines))
	for i, line := range lines {
		out[i] = domain.LineOutcome{
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.PriceAtOrder,
			Subtotal:  line.Subtotal(),
			Available: available,
		}
	}
	return out
}
