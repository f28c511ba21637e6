package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет событие; ключ партиционирования: идентификатор агрегата.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		CreatedAt:     event.CreatedAt,
		PublishedAt:   p.producer.now(),
	}

	return p.producer.PublishEvent(ctx, p.topic, key, envelope, sarama.RecordHeader{
		Key:   []byte(HeaderEventType),
		Value: []byte(event.EventType),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
