package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// Topics по умолчанию.
const (
	TopicOrderEvents     = "intake.order.events"
	TopicRestock         = "intake.stock.restock"
	TopicDeadLetterQueue = "intake.dlq"
)

// Kafka headers для retry и DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// ErrPoisonMessage помечает сообщение, которое нельзя обработать повторной попыткой.
var ErrPoisonMessage = errors.New("poison message")

// Envelope: обёртка события outbox в topic заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// RestockMessage: команда пополнения остатка.
type RestockMessage struct {
	SKU      string                `json:"sku"`
	Quantity int64                 `json:"quantity"`
	Reason   domain.MovementReason `json:"reason,omitempty"`
}

// Validate проверяет команду до обращения к реестру.
func (m RestockMessage) Validate() error {
	if strings.TrimSpace(m.SKU) == "" {
		return domain.ErrSKURequired
	}
	if m.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if m.Reason != "" && !m.Reason.Valid() {
		return domain.ErrInvalidMovementReason
	}
	if m.Reason == domain.MovementOrderFulfillment {
		return fmt.Errorf("%w: %s is not a restock reason", domain.ErrInvalidMovementReason, m.Reason)
	}
	return nil
}

// ParseRestockMessage разбирает и валидирует команду пополнения.
// Любая ошибка оборачивает ErrPoisonMessage.
func ParseRestockMessage(message *sarama.ConsumerMessage) (RestockMessage, error) {
	var cmd RestockMessage
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		return RestockMessage{}, fmt.Errorf("%w: unmarshal restock: %w", ErrPoisonMessage, err)
	}
	cmd.SKU = strings.TrimSpace(cmd.SKU)
	if err := cmd.Validate(); err != nil {
		return RestockMessage{}, fmt.Errorf("%w: %w", ErrPoisonMessage, err)
	}
	return cmd, nil
}

// ParseEnvelope разбирает событие outbox из topic заказов.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return envelope, nil
}
