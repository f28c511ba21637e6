package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":50051", cfg.GRPC.Addr)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	require.Equal(t, SessionStoreMemory, cfg.Session.Store)
	require.Equal(t, 15*time.Minute, cfg.Session.IdleTimeout)
	require.InDelta(t, 0.45, cfg.Resolver.MinScore, 1e-9)
	require.InDelta(t, 0.05, cfg.Resolver.AmbiguityTolerance, 1e-9)
	require.Equal(t, 5, cfg.Resolver.TopN)
	require.Equal(t, "mistral", cfg.Inference.DefaultModel)
	require.Equal(t, []string{"mistral", "llama3"}, cfg.Inference.Models)
	require.Equal(t, 20*time.Second, cfg.Inference.Timeout)
	require.Equal(t, 720*time.Hour, cfg.Quote.Validity)
	require.False(t, cfg.Kafka.Enabled())
	require.Equal(t, "intake.stock.restock", cfg.Kafka.RestockTopic)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: postgres
postgres:
  dsn: postgres://intake:intake@db:5432/intake?sslmode=disable
session:
  idle_timeout: 5m
resolver:
  min_score: 0.6
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	require.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	require.InDelta(t, 0.6, cfg.Resolver.MinScore, 1e-9)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.True(t, cfg.Kafka.Enabled())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[quote]
validity = "48h"

[catalog]
snapshot = "/etc/intake/catalog.yaml"
watch = true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, cfg.Quote.Validity)
	require.Equal(t, "/etc/intake/catalog.yaml", cfg.Catalog.Snapshot)
	require.True(t, cfg.Catalog.Watch)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grpc:\n  addr: \":6000\"\n"), 0o600))

	t.Setenv("INTAKE_GRPC_ADDR", ":7000")
	t.Setenv("INTAKE_KAFKA_BROKERS", "broker-a:9092, broker-b:9092")
	t.Setenv("INTAKE_SESSION_STORE", "redis")
	t.Setenv("INTAKE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.GRPC.Addr)
	require.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, SessionStoreRedis, cfg.Session.Store)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = StorageDriverPostgres }, "postgres.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"redis without addr", func(c *Config) { c.Session.Store = SessionStoreRedis }, "redis.addr"},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }, "idle_timeout"},
		{"min score out of range", func(c *Config) { c.Resolver.MinScore = 1.5 }, "min_score"},
		{"watch without snapshot", func(c *Config) { c.Catalog.Watch = true }, "catalog.watch"},
		{"zero quote validity", func(c *Config) { c.Quote.Validity = 0 }, "quote.validity"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	require.NoError(t, base.Validate())
}
