package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != domain.EventOrderCommitted || envelope.AggregateID != "order-123" {
			t.Errorf("unexpected envelope: %+v", envelope)
		}
		if string(envelope.Payload) != `{"total":"62.50"}` {
			t.Errorf("unexpected payload: %s", envelope.Payload)
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer), TopicOrderEvents)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventOrderCommitted,
		Payload:       []byte(`{"total":"62.50"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer), "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "quote",
		AggregateID:   "quote-234",
		EventType:     domain.EventQuoteCreated,
		Payload:       []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
