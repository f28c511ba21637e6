package app

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/config"
	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
)

// kafkaRuntime: producer, паблишеры outbox и consumer пополнений.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	consumer  *kafka.Consumer
	logger    *log.Entry
}

// initKafka подключает Kafka, если заданы брокеры. Без брокеров
// возвращает nil, nil: события остаются в outbox до появления паблишера.
func initKafka(cfg config.KafkaConfig, ledger kafka.Restocker, m *metrics.IntakeMetrics, logger *log.Entry) (*kafkaRuntime, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.Brokers)
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")

	rt := &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.OrderTopic),
		dlq:       kafka.NewOutboxPublisher(producer, cfg.DLQTopic),
		logger:    logger,
	}

	handler := kafka.NewRestockHandler(ledger, m, logger.WithField("layer", "restock"))
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{cfg.RestockTopic}, handler,
		kafka.WithConsumerLogger(logger.WithField("layer", "kafka-consumer")),
		kafka.WithDLQ(producer, cfg.DLQTopic),
	)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	rt.consumer = consumer
	return rt, nil
}

// outboxPublishers возвращает паблишеры для outbox-воркера; nil-runtime даёт nil-интерфейсы.
func (rt *kafkaRuntime) outboxPublishers() (domain.OutboxPublisher, domain.OutboxPublisher) {
	if rt == nil {
		return nil, nil
	}
	return rt.publisher, rt.dlq
}

// close останавливает consumer и закрывает producer.
func (rt *kafkaRuntime) close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.consumer != nil {
		if err := rt.consumer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			errs = append(errs, err)
		} else {
			rt.logger.Info("kafka producer closed")
		}
	}
	return errors.Join(errs...)
}
