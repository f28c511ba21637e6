package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/messaging/kafka"
)

func (c *cli) newRestockCmd() *cobra.Command {
	var (
		sku      string
		quantity int64
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "restock",
		Short: "Publish a restock command to Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg := kafka.RestockMessage{
				SKU:      strings.TrimSpace(sku),
				Quantity: quantity,
				Reason:   domain.MovementReason(reason),
			}
			if err := msg.Validate(); err != nil {
				return err
			}
			brokers := c.brokers()
			if len(brokers) == 0 {
				return errors.New("kafka brokers are required (--brokers or INTAKE_KAFKA_BROKERS)")
			}

			sync, err := c.newProducer(brokers)
			if err != nil {
				return err
			}
			producer := kafka.NewProducerFromSync(sync)
			defer producer.Close()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()

			topic := c.v.GetString(keyRestockTopic)
			if err := producer.PublishEvent(ctx, topic, msg.SKU, msg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restock %s +%d (%s) published to %s\n", msg.SKU, msg.Quantity, msg.Reason, topic)
			return err
		},
	}
	cmd.Flags().StringVar(&sku, "sku", "", "variant SKU")
	cmd.Flags().Int64Var(&quantity, "quantity", 0, "units to add")
	cmd.Flags().StringVar(&reason, "reason", string(domain.MovementRestock), "movement reason: restock|adjustment|return")
	_ = cmd.MarkFlagRequired("sku")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}
