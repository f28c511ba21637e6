package domain

import "time"

// DefaultAlertThreshold: порог низкого остатка, если он не задан явно.
const DefaultAlertThreshold int64 = 10

// MovementReason классифицирует движение склада.
type MovementReason string

const (
	// MovementOrderFulfillment: списание под подтверждённый заказ.
	MovementOrderFulfillment MovementReason = "order_fulfillment"
	// MovementRestock: пополнение склада.
	MovementRestock MovementReason = "restock"
	// MovementAdjustment: ручная корректировка или компенсация.
	MovementAdjustment MovementReason = "adjustment"
	// MovementReturn: возврат товара при отмене заказа.
	MovementReturn MovementReason = "return"
)

// Valid проверяет, что причина относится к поддерживаемым значениям.
func (r MovementReason) Valid() bool {
	switch r {
	case MovementOrderFulfillment, MovementRestock, MovementAdjustment, MovementReturn:
		return true
	default:
		return false
	}
}

// StockLevel: текущий остаток варианта. Quantity никогда не бывает отрицательным.
type StockLevel struct {
	SKU            string
	Quantity       int64
	AlertThreshold int64
	LastUpdated    time.Time
}

// Low сообщает, что остаток достиг порога оповещения.
func (l StockLevel) Low() bool {
	return l.Quantity <= l.AlertThreshold
}

// StockMovement: неизменяемая запись об изменении остатка.
type StockMovement struct {
	ID            string
	SKU           string
	Delta         int64
	Reason        MovementReason
	CorrelationID string
	OrderLineID   string
	CreatedAt     time.Time
}

// StockLine: одна позиция списания в рамках CommitAll.
type StockLine struct {
	SKU           string
	Quantity      int64
	Reason        MovementReason
	CorrelationID string
	OrderLineID   string
}

// Validate проверяет позицию списания.
func (l StockLine) Validate() error {
	if l.SKU == "" {
		return ErrSKURequired
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !l.Reason.Valid() {
		return ErrInvalidMovementReason
	}
	return nil
}

// Shortage описывает позицию, по которой не хватает остатка.
type Shortage struct {
	SKU       string `json:"sku"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// Availability: результат неблокирующей проверки остатка.
type Availability struct {
	SKU        string
	Requested  int64
	Current    int64
	Sufficient bool
}

// CommitOutcome описывает результат CommitAll; либо все движения применены, либо ни одного.
type CommitOutcome struct {
	Committed bool
	Movements []StockMovement
	// Levels содержит остатки после списания, только при Committed.
	Levels []StockLevel
	// Shortages заполняется только когда Committed == false.
	Shortages []Shortage
}

// AggregateLines суммирует количество по SKU, сохраняя порядок первого появления.
func AggregateLines(lines []StockLine) ([]string, map[string]int64) {
	order := make([]string, 0, len(lines))
	totals := make(map[string]int64, len(lines))
	for _, line := range lines {
		if _, ok := totals[line.SKU]; !ok {
			order = append(order, line.SKU)
		}
		totals[line.SKU] += line.Quantity
	}
	return order, totals
}
