package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/intake/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/intake/internal/transport/grpcapi"
	"github.com/vladislavdragonenkov/intake/internal/version"
)

const (
	keyGRPCAddr     = "grpc.addr"
	keyTimeout      = "timeout"
	keyBrokers      = "kafka.brokers"
	keyOrderTopic   = "kafka.order_topic"
	keyRestockTopic = "kafka.restock_topic"
	keyDLQTopic     = "kafka.dlq_topic"
	keyLogLevel     = "log.level"
)

// dialer открывает gRPC-соединение с intake-service.
type dialer func(ctx context.Context, addr string) (*grpc.ClientConn, error)

// cli: общие зависимости команд; тесты подменяют транспорт.
type cli struct {
	v           *viper.Viper
	dial        dialer
	newProducer func(brokers []string) (sarama.SyncProducer, error)
	replayDeps  replayDeps
}

func defaultCLI() *cli {
	return &cli{
		v:           viper.New(),
		dial:        dialGRPC,
		newProducer: newSyncProducer,
		replayDeps:  saramaReplayDeps,
	}
}

func dialGRPC(_ context.Context, addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func newSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "intakectl",
		Short:         "intakectl: talk to the intake service, resolve products, restock and replay the DLQ",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(c.v.GetString(keyLogLevel))
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			log.SetLevel(level)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("grpc-addr", "localhost:50051", "intake-service gRPC address")
	flags.Duration("timeout", 30*time.Second, "per-call timeout")
	flags.StringSlice("brokers", nil, "Kafka brokers")
	flags.String("order-topic", kafka.TopicOrderEvents, "order events topic")
	flags.String("restock-topic", kafka.TopicRestock, "restock commands topic")
	flags.String("dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic")
	flags.String("log-level", "warn", "log level")

	for key, flag := range map[string]string{
		keyGRPCAddr:     "grpc-addr",
		keyTimeout:      "timeout",
		keyBrokers:      "brokers",
		keyOrderTopic:   "order-topic",
		keyRestockTopic: "restock-topic",
		keyDLQTopic:     "dlq-topic",
		keyLogLevel:     "log-level",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}
	c.v.SetEnvPrefix("INTAKE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	rootCmd.AddCommand(
		newVersionCmd(),
		c.newChatCmd(),
		c.newResolveCmd(),
		c.newRestockCmd(),
		c.newOrderCmd(),
		c.newQuoteCmd(),
		c.newDLQCmd(),
		c.newBenchCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

// brokers возвращает список брокеров из флага или INTAKE_KAFKA_BROKERS.
func (c *cli) brokers() []string {
	var out []string
	for _, raw := range c.v.GetStringSlice(keyBrokers) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// client открывает соединение и возвращает клиента вместе с функцией закрытия.
func (c *cli) client(ctx context.Context) (*grpcapi.Client, func(), error) {
	addr := c.v.GetString(keyGRPCAddr)
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return grpcapi.NewClient(conn), func() { _ = conn.Close() }, nil
}

// callContext ограничивает один вызов таймаутом --timeout.
func (c *cli) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := c.v.GetDuration(keyTimeout)
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
