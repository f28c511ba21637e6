package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State: состояние диалоговой машины.
type State string

const (
	StateIdle                 State = "idle"
	StateCollecting           State = "collecting"
	StateDisambiguating       State = "disambiguating"
	StateAwaitingQuantity     State = "awaiting_quantity"
	StateAwaitingIdentity     State = "awaiting_identity"
	StateAwaitingAddress      State = "awaiting_address"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCommitting           State = "committing"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
)

// Terminal сообщает, что из состояния больше нет переходов.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// RequestKind различает заказ и смету (devis).
type RequestKind string

const (
	RequestOrder RequestKind = "order"
	RequestQuote RequestKind = "quote"
)

// DeliveryMethod: способ получения заказа.
type DeliveryMethod string

const (
	// DeliveryShipping: доставка, требует адрес.
	DeliveryShipping DeliveryMethod = "livraison"
	// DeliveryPickup: самовывоз, адрес не обязателен.
	DeliveryPickup DeliveryMethod = "retrait"
)

// Valid проверяет значение способа доставки.
func (d DeliveryMethod) Valid() bool {
	return d == DeliveryShipping || d == DeliveryPickup
}

// PartialLine: позиция, уже однозначно сопоставленная с вариантом.
type PartialLine struct {
	Variant  Variant `json:"variant"`
	Quantity int64   `json:"quantity"`
}

// Subtotal возвращает стоимость позиции по текущей цене варианта.
func (l PartialLine) Subtotal() decimal.Decimal {
	return l.Variant.Price.Mul(decimal.NewFromInt(l.Quantity))
}

// PendingItem описывает позицию в процессе разрешения; кандидаты уже найдены,
// но требуется выбор пользователя или количество.
type PendingItem struct {
	Text       string      `json:"text"`
	Quantity   int64       `json:"quantity,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// PartialIntent: накопленные в ходе диалога данные.
type PartialIntent struct {
	Lines     []PartialLine  `json:"lines,omitempty"`
	Pending   *PendingItem   `json:"pending,omitempty"`
	Queue     []PendingItem  `json:"queue,omitempty"`
	Kind      RequestKind    `json:"kind,omitempty"`
	Delivery  DeliveryMethod `json:"delivery,omitempty"`
	Email     string         `json:"email,omitempty"`
	Address   *Address       `json:"address,omitempty"`
	Shortages []Shortage     `json:"shortages,omitempty"`
}

// Clone возвращает глубокую копию, чтобы переходы не разделяли срезы.
func (p PartialIntent) Clone() PartialIntent {
	out := p
	out.Lines = append([]PartialLine(nil), p.Lines...)
	out.Queue = make([]PendingItem, len(p.Queue))
	for i, item := range p.Queue {
		out.Queue[i] = item.clone()
	}
	if len(out.Queue) == 0 {
		out.Queue = nil
	}
	out.Shortages = append([]Shortage(nil), p.Shortages...)
	if p.Pending != nil {
		pending := p.Pending.clone()
		out.Pending = &pending
	}
	if p.Address != nil {
		addr := *p.Address
		out.Address = &addr
	}
	return out
}

func (p PendingItem) clone() PendingItem {
	p.Candidates = append([]Candidate(nil), p.Candidates...)
	return p
}

// Session: состояние одного разговора, сохраняемое между репликами.
type Session struct {
	ID           string        `json:"id"`
	State        State         `json:"state"`
	Partial      PartialIntent `json:"partial"`
	Model        string        `json:"model,omitempty"`
	OrderID      string        `json:"order_id,omitempty"`
	QuoteID      string        `json:"quote_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// NewSession создаёт сессию в состоянии Idle.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:           id,
		State:        StateIdle,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// IdleFor сообщает, что сессия неактивна не меньше timeout.
func (s Session) IdleFor(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) >= timeout
}

// Customer: запись клиента в справочнике адресов.
type Customer struct {
	Email     string    `json:"email" yaml:"email" toml:"email"`
	Name      string    `json:"name,omitempty" yaml:"name" toml:"name"`
	Addresses []Address `json:"addresses,omitempty" yaml:"addresses" toml:"addresses"`
}
