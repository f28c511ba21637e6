package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт параметры consumer.
type ConsumerOptions struct {
	Logger      *log.Entry
	DLQProducer *Producer
	DLQTopic    string
	MaxRetries  int
	RetryDelay  time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithDLQ включает отправку необработанных сообщений в Dead Letter Queue.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DLQProducer = producer
		opts.DLQTopic = topic
	}
}

// WithRetry задаёт число повторов и паузу между ними.
func WithRetry(maxRetries int, delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxRetries = maxRetries
		opts.RetryDelay = delay
	}
}

// Consumer читает consumer group и передаёт сообщения handler с retry и DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создаёт consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	opts := ConsumerOptions{
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-consumer")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.DLQTopic == "" {
		opts.DLQTopic = TopicDeadLetterQueue
	}

	return &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      opts.Logger,
		dlqProducer: opts.DLQProducer,
		dlqTopic:    opts.DLQTopic,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
	}
}

// Start запускает чтение в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения partition.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// Offset не сдвигается: сообщение будет перечитано после rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry повторяет обработку до maxRetries раз.
// Poison-сообщения и исчерпавшие попытки уходят в DLQ, если она настроена.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)

	var err error
	for attempt := retryCount; ; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoisonMessage) || attempt >= c.maxRetries || ctx.Err() != nil {
			retryCount = attempt
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err, retryCount); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		count, err := strconv.Atoi(string(header.Value))
		if err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет сообщение в Dead Letter Queue вместе с причиной отказа.
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	dlqMessage := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          failedAt,
		"retry_count":        retryCount,
	}

	return c.dlqProducer.PublishEvent(context.WithoutCancel(ctx), c.dlqTopic, string(message.Key), dlqMessage,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(failedAt)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
	)
}
