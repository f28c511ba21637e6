// Package transport содержит общие для gRPC и HTTP сообщения и
// классификацию доменных ошибок.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/service/conversation"
)

// Conversation: диалоговый движок с точки зрения транспорта.
type Conversation interface {
	Converse(ctx context.Context, turn conversation.Turn) (conversation.Reply, error)
	Cancel(ctx context.Context, sessionID string) (conversation.Reply, error)
}

// OrderManager: операции жизненного цикла заказов и смет.
type OrderManager interface {
	AcceptQuote(ctx context.Context, quoteID string) (domain.OrderResult, error)
	RejectQuote(ctx context.Context, quoteID, reason string) error
	CancelOrder(ctx context.Context, orderID, reason string) error
	AdvanceOrder(ctx context.Context, orderID string, status domain.OrderStatus) error
}

type ConverseRequest struct {
	SessionID string `json:"session_id"`
	Utterance string `json:"message"`
	Model     string `json:"model,omitempty"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// ChatReply: ответ на реплику или отмену сессии.
type ChatReply struct {
	SessionID            string `json:"session_id"`
	Message              string `json:"message"`
	State                string `json:"state"`
	OrderActionAvailable bool   `json:"order_action_available"`
	OrderID              string `json:"order_id,omitempty"`
	QuoteID              string `json:"quote_id,omitempty"`
}

type QuoteRequest struct {
	QuoteID string `json:"quote_id"`
	Reason  string `json:"reason,omitempty"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status,omitempty"`
}

type OrderResultReply struct {
	Result domain.OrderResult `json:"result"`
}

type Empty struct{}

type TimelineEntry struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OrderView: заказ с историей для чтения снаружи.
type OrderView struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id,omitempty"`
	QuoteID       string             `json:"quote_id,omitempty"`
	CustomerEmail string             `json:"customer_email"`
	Delivery      string             `json:"delivery"`
	Status        string             `json:"status"`
	Total         decimal.Decimal    `json:"total"`
	Lines         []domain.OrderLine `json:"lines"`
	Timeline      []TimelineEntry    `json:"timeline,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// FromReply переводит ответ движка в сообщение транспорта.
func FromReply(reply conversation.Reply) ChatReply {
	return ChatReply{
		SessionID:            reply.SessionID,
		Message:              reply.Message,
		State:                string(reply.State),
		OrderActionAvailable: reply.OrderActionAvailable,
		OrderID:              reply.OrderID,
		QuoteID:              reply.QuoteID,
	}
}

// NewOrderView собирает представление заказа.
func NewOrderView(order domain.Order, events []domain.TimelineEvent) OrderView {
	view := OrderView{
		ID:            order.ID,
		SessionID:     order.SessionID,
		QuoteID:       order.QuoteID,
		CustomerEmail: order.CustomerEmail,
		Delivery:      string(order.Delivery),
		Status:        string(order.Status),
		Total:         order.Total,
		Lines:         order.Lines,
		CreatedAt:     order.CreatedAt,
	}
	for _, event := range events {
		view.Timeline = append(view.Timeline, TimelineEntry{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return view
}

// OrderReader читает заказ вместе с его историей.
type OrderReader struct {
	Orders   domain.OrderRepository
	Timeline domain.TimelineRepository
}

// Get возвращает представление заказа; отсутствие истории не ошибка.
func (r OrderReader) Get(ctx context.Context, orderID string) (OrderView, error) {
	if orderID == "" {
		return OrderView{}, ErrOrderIDRequired
	}
	order, err := r.Orders.Get(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	var events []domain.TimelineEvent
	if r.Timeline != nil {
		events, err = r.Timeline.List(ctx, orderID)
		if err != nil {
			return OrderView{}, err
		}
	}
	return NewOrderView(order, events), nil
}

var (
	ErrOrderIDRequired = errors.New("order_id is required")
	ErrQuoteIDRequired = errors.New("quote_id is required")
	ErrEmptyUtterance  = errors.New("message is required")
)
