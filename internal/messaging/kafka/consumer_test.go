package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func nopHandler(context.Context, *sarama.ConsumerMessage) error { return nil }

func testConsumer(handler MessageHandler, options ...ConsumerOption) *Consumer {
	options = append([]ConsumerOption{
		WithConsumerLogger(log.WithField("test", "consumer")),
		WithRetry(3, 0),
	}, options...)
	return newConsumer(&mockConsumerGroup{}, []string{TopicRestock}, handler, options...)
}

func TestNewConsumerErrors(t *testing.T) {
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, nopHandler); err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, []string{"topic-a"}, nopHandler, WithConsumerLogger(log.WithField("test", "consumer")))

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Consume вызывается в горутине; ждём отмены ctx.
	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newConsumer(group, nil, nopHandler)
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := testConsumer(nopHandler)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
}

func TestConsumeClaimFailedHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") }, WithRetry(1, 0))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "topic", Key: []byte("key"), Value: []byte(`{"a":1}`)}

	t.Run("success", func(t *testing.T) {
		consumer := testConsumer(nopHandler)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("recovers after transient failure", func(t *testing.T) {
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary")
			}
			return nil
		})
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Fatalf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("retry count header shortens budget", func(t *testing.T) {
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}},
		}
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("temporary")
		})
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err == nil {
			t.Fatal("expected retry error")
		}
		if attempts != 2 {
			t.Fatalf("expected 2 in-process attempts, got %d", attempts)
		}
	})

	t.Run("poison message skips retries", func(t *testing.T) {
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return fmt.Errorf("%w: bad json", ErrPoisonMessage)
		})
		if err := consumer.handleMessageWithRetry(context.Background(), msg); !errors.Is(err, ErrPoisonMessage) {
			t.Fatalf("expected poison error without dlq, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt, got %d", attempts)
		}
	})

	t.Run("max retries with dlq success", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndSucceed()
		consumer := testConsumer(
			func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			WithDLQ(NewProducerFromSync(mockProducer), ""),
		)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("max retries with dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := testConsumer(
			func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			WithDLQ(NewProducerFromSync(mockProducer), TopicDeadLetterQueue),
		)
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := consumer.getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	msgInvalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := consumer.getRetryCount(msgInvalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
}

func TestSendToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "custom.dlq" {
			t.Errorf("unexpected dlq topic: %s", msg.Topic)
		}
		found := false
		for _, header := range msg.Headers {
			if string(header.Key) == HeaderOriginalTopic && string(header.Value) == "orders" {
				found = true
			}
		}
		if !found {
			t.Error("original topic header missing")
		}
		return nil
	})

	consumer := testConsumer(nopHandler, WithDLQ(NewProducerFromSync(mockProducer), "custom.dlq"))

	msg := &sarama.ConsumerMessage{Topic: "orders", Partition: 1, Offset: 42, Key: []byte("k"), Value: []byte("v")}
	if err := consumer.sendToDLQ(context.Background(), msg, errors.New("boom"), 3); err != nil {
		t.Fatalf("sendToDLQ failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := testConsumer(nopHandler)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
