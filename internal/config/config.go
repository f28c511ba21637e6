package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "INTAKE"

const (
	// StorageDriverMemory: заказы, сметы и склад в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres: хранение в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// SessionStoreMemory: сессии в памяти процесса.
	SessionStoreMemory = "memory"
	// SessionStoreRedis: сессии в Redis с TTL.
	SessionStoreRedis = "redis"
)

// Config: настройки запуска intake-service.
type Config struct {
	GRPC         ServerConfig       `mapstructure:"grpc"`
	HTTP         ServerConfig       `mapstructure:"http"`
	Metrics      ServerConfig       `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Session      SessionConfig      `mapstructure:"session"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Inference    InferenceConfig    `mapstructure:"inference"`
	Quote        QuoteConfig        `mapstructure:"quote"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SessionConfig struct {
	Store       string        `mapstructure:"store"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type ResolverConfig struct {
	MinScore           float64 `mapstructure:"min_score"`
	AmbiguityTolerance float64 `mapstructure:"ambiguity_tolerance"`
	TopN               int     `mapstructure:"top_n"`
}

type CatalogConfig struct {
	Snapshot string        `mapstructure:"snapshot"`
	Watch    bool          `mapstructure:"watch"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type InferenceConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Models       []string      `mapstructure:"models"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type QuoteConfig struct {
	Validity time.Duration `mapstructure:"validity"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	OrderTopic   string   `mapstructure:"order_topic"`
	RestockTopic string   `mapstructure:"restock_topic"`
	DLQTopic     string   `mapstructure:"dlq_topic"`
	GroupID      string   `mapstructure:"group_id"`
}

// Enabled сообщает, что заданы брокеры Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type OutboxConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type HousekeepingConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// SetDefaults регистрирует значения по умолчанию для всех ключей.
// Без них AutomaticEnv не увидит ключи при Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", StorageDriverMemory)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.idle_timeout", 15*time.Minute)

	v.SetDefault("resolver.min_score", 0.45)
	v.SetDefault("resolver.ambiguity_tolerance", 0.05)
	v.SetDefault("resolver.top_n", 5)

	v.SetDefault("catalog.snapshot", "")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.cache_ttl", 30*time.Second)

	v.SetDefault("inference.base_url", "http://localhost:11434")
	v.SetDefault("inference.default_model", "mistral")
	v.SetDefault("inference.models", []string{"mistral", "llama3"})
	v.SetDefault("inference.timeout", 20*time.Second)

	v.SetDefault("quote.validity", 720*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.order_topic", "intake.order.events")
	v.SetDefault("kafka.restock_topic", "intake.stock.restock")
	v.SetDefault("kafka.dlq_topic", "intake.dlq")
	v.SetDefault("kafka.group_id", "intake-restock")

	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 3)
	v.SetDefault("outbox.retry_delay", 100*time.Millisecond)

	v.SetDefault("housekeeping.interval", time.Minute)
	v.SetDefault("housekeeping.batch_size", 500)
	v.SetDefault("housekeeping.idempotency_ttl", 24*time.Hour)
}

// New создаёт viper с умолчаниями и переменными окружения INTAKE_*.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load читает конфигурацию: умолчания, затем файл path (YAML или TOML,
// если задан), затем окружение.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper превращает заполненный viper в типизированный Config.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Inference.Models = splitList(cfg.Inference.Models)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for storage.driver=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}

	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for session.store=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported session.store %q", c.Session.Store))
	}

	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if c.Resolver.MinScore < 0 || c.Resolver.MinScore > 1 {
		errs = append(errs, errors.New("resolver.min_score must be within [0,1]"))
	}
	if c.Resolver.AmbiguityTolerance < 0 {
		errs = append(errs, errors.New("resolver.ambiguity_tolerance must not be negative"))
	}
	if c.Resolver.TopN <= 0 {
		errs = append(errs, errors.New("resolver.top_n must be positive"))
	}
	if c.Catalog.Watch && c.Catalog.Snapshot == "" {
		errs = append(errs, errors.New("catalog.watch requires catalog.snapshot"))
	}
	if c.Quote.Validity <= 0 {
		errs = append(errs, errors.New("quote.validity must be positive"))
	}
	if c.Outbox.Interval <= 0 || c.Housekeeping.Interval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	return errors.Join(errs...)
}

// splitList раскрывает значения вида "a,b" из переменных окружения.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
