package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/intake/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// replayConfig: параметры переигрывания DLQ.
type replayConfig struct {
	brokers      []string
	sourceTopic  string
	orderTopic   string
	restockTopic string
	limit        int
	execute      bool
	fromNewest   bool
	idleTimeout  time.Duration
}

func (c replayConfig) validate() error {
	if len(c.brokers) == 0 {
		return errors.New("kafka brokers are required (--brokers or INTAKE_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(c.sourceTopic) == "" {
		return errors.New("dlq topic is required")
	}
	if strings.TrimSpace(c.orderTopic) == "" {
		return errors.New("order topic is required")
	}
	if c.limit <= 0 {
		return errors.New("limit must be > 0")
	}
	if c.idleTimeout <= 0 {
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

type replayMessage struct {
	topic string
	key   string
	value []byte
}

// consumerDLQPayload: запись, которую consumer пополнений кладёт в DLQ.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDLQPayload: payload, который outbox-воркер кладёт в DLQ.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// replayDeps открывает клиента, consumer и (в режиме execute) producer.
type replayDeps func(cfg replayConfig) (offsetClient, partitionConsumerSource, sarama.SyncProducer, error)

func saramaReplayDeps(cfg replayConfig) (offsetClient, partitionConsumerSource, sarama.SyncProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := newSyncProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, consumer, producer, nil
}

func (c *cli) newDLQCmd() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead letter queue",
	}

	cfg := replayConfig{}
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay DLQ messages to their original topics (dry-run by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.brokers = c.brokers()
			cfg.sourceTopic = c.v.GetString(keyDLQTopic)
			cfg.orderTopic = c.v.GetString(keyOrderTopic)
			cfg.restockTopic = c.v.GetString(keyRestockTopic)
			if err := cfg.validate(); err != nil {
				return err
			}

			client, consumer, producer, err := c.replayDeps(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if producer != nil {
					_ = producer.Close()
				}
				_ = consumer.Close()
				_ = client.Close()
			}()

			stats, err := runReplay(cmd.Context(), cfg, client, consumer, producer)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "processed=%d replayed=%d skipped=%d\n", stats.processed, stats.replayed, stats.skipped)
			return err
		},
	}
	replayCmd.Flags().IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	replayCmd.Flags().BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	replayCmd.Flags().BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	replayCmd.Flags().DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")

	dlqCmd.AddCommand(replayCmd)
	return dlqCmd
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *partitionStats) add(other partitionStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg replayConfig, client offsetClient, consumer partitionConsumerSource, producer sarama.SyncProducer) (partitionStats, error) {
	var total partitionStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("dlq topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer sarama.SyncProducer,
	cfg replayConfig,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}
			replay, err := extractReplayMessage(msg, cfg)
			if err != nil {
				stats.skipped++
				log.WithError(err).WithFields(fields).Warn("skip dlq message")
				continue
			}

			if cfg.execute {
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				fields["target_topic"] = replay.topic
				fields["key"] = replay.key
				log.WithFields(fields).Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}
	return stats, nil
}

func publishReplay(producer sarama.SyncProducer, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

var errNotReplayable = errors.New("message is not replayable")

// extractReplayMessage восстанавливает исходное сообщение из записи DLQ.
// Команды пополнения проверяются заново: невалидная снова попала бы в DLQ.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg replayConfig) (replayMessage, error) {
	var consumerPayload consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		topic := firstNonEmpty(consumerPayload.OriginalTopic, cfg.restockTopic)
		value := []byte(consumerPayload.OriginalValue)
		if topic == cfg.restockTopic {
			if _, err := kafka.ParseRestockMessage(&sarama.ConsumerMessage{Value: value}); err != nil {
				return replayMessage{}, err
			}
		}
		return replayMessage{topic: topic, key: consumerPayload.OriginalKey, value: value}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}

	var dlqPayload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlqPayload); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlqPayload.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dlq payload does not contain original event payload")
	}

	replay := kafka.Envelope{
		ID:            firstNonEmpty(dlqPayload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlqPayload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlqPayload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dlqPayload.EventType, envelope.EventType),
		Payload:       dlqPayload.Payload,
		CreatedAt:     envelope.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic: cfg.orderTopic,
		key:   firstNonEmpty(replay.AggregateID, replay.ID),
		value: encoded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
