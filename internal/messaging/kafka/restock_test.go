package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

func restockMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicRestock, Key: []byte("ROS-001"), Value: []byte(value)}
}

func TestRestockHandler_AppliesMovement(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewStockLedger(domain.StockLevel{SKU: "ROS-001", Quantity: 10})
	handler := NewRestockHandler(ledger, nil, nil)

	require.NoError(t, handler(ctx, restockMessage(`{"sku":"ROS-001","quantity":15}`)))
	require.NoError(t, handler(ctx, restockMessage(`{"sku":" ROS-001 ","quantity":2,"reason":"return"}`)))

	level, err := ledger.Level(ctx, "ROS-001")
	require.NoError(t, err)
	require.EqualValues(t, 27, level.Quantity)

	movements, err := ledger.Movements(ctx, "ROS-001")
	require.NoError(t, err)
	require.Len(t, movements, 3)
	require.Equal(t, domain.MovementRestock, movements[1].Reason)
	require.Equal(t, domain.MovementReturn, movements[2].Reason)
}

func TestRestockHandler_PoisonMessages(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewStockLedger(domain.StockLevel{SKU: "ROS-001", Quantity: 10})
	handler := NewRestockHandler(ledger, nil, nil)

	cases := map[string]string{
		"malformed json":      `{"sku":`,
		"missing sku":         `{"quantity":1}`,
		"non positive":        `{"sku":"ROS-001","quantity":0}`,
		"fulfillment reason":  `{"sku":"ROS-001","quantity":1,"reason":"order_fulfillment"}`,
		"unknown reason":      `{"sku":"ROS-001","quantity":1,"reason":"gift"}`,
		"unknown variant sku": `{"sku":"NOPE-404","quantity":1}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			err := handler(ctx, restockMessage(value))
			require.ErrorIs(t, err, ErrPoisonMessage)
		})
	}

	level, err := ledger.Level(ctx, "ROS-001")
	require.NoError(t, err)
	require.EqualValues(t, 10, level.Quantity)
}

type failingRestocker struct{}

func (failingRestocker) Restock(context.Context, string, int64, domain.MovementReason) (domain.StockMovement, error) {
	return domain.StockMovement{}, errors.New("connection reset")
}

func TestRestockHandler_TransientErrorIsRetryable(t *testing.T) {
	handler := NewRestockHandler(failingRestocker{}, nil, nil)

	err := handler(context.Background(), restockMessage(`{"sku":"ROS-001","quantity":1}`))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrPoisonMessage))
}
