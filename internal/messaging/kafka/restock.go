package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
)

// Restocker: часть реестра остатков, нужная обработчику пополнений.
type Restocker interface {
	Restock(ctx context.Context, sku string, quantity int64, reason domain.MovementReason) (domain.StockMovement, error)
}

// NewRestockHandler возвращает обработчик topic пополнений.
// Неизвестный SKU и невалидная команда считаются poison-сообщениями.
func NewRestockHandler(ledger Restocker, m *metrics.IntakeMetrics, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "restock-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cmd, err := ParseRestockMessage(message)
		if err != nil {
			return err
		}

		movement, err := ledger.Restock(ctx, cmd.SKU, cmd.Quantity, cmd.Reason)
		switch {
		case errors.Is(err, domain.ErrVariantNotFound),
			errors.Is(err, domain.ErrInvalidQuantity),
			errors.Is(err, domain.ErrInvalidMovementReason):
			return fmt.Errorf("%w: %w", ErrPoisonMessage, err)
		case err != nil:
			return fmt.Errorf("restock %s: %w", cmd.SKU, err)
		}

		m.RecordStockMovements(string(movement.Reason), 1)
		logger.WithFields(log.Fields{
			"sku":         movement.SKU,
			"quantity":    movement.Delta,
			"reason":      movement.Reason,
			"movement_id": movement.ID,
		}).Info("stock restocked")
		return nil
	}
}
