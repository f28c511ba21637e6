package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/config"
	"github.com/vladislavdragonenkov/intake/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/intake/internal/health"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
	"github.com/vladislavdragonenkov/intake/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/intake/internal/storage/redis"
)

// Dependencies: хранилища и порты, выбранные конфигурацией.
type Dependencies struct {
	Catalog     domain.CatalogReader
	Sink        catalog.VariantSink
	Ledger      domain.StockLedger
	Orders      domain.OrderRepository
	Quotes      domain.QuoteRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Customers   domain.CustomerDirectory
	Sessions    domain.SessionStore

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// Close освобождает соединения в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewDependencies открывает хранилища и засевает каталог из снимка.
func NewDependencies(ctx context.Context, cfg config.Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	var snapshot catalog.Snapshot
	if cfg.Catalog.Snapshot != "" {
		loaded, err := catalog.LoadSnapshot(cfg.Catalog.Snapshot)
		if err != nil {
			return nil, err
		}
		snapshot = loaded
		logger.WithFields(log.Fields{
			"path":     cfg.Catalog.Snapshot,
			"variants": len(snapshot.Variants),
		}).Info("catalog snapshot loaded")
	}

	deps := &Dependencies{checkers: make(map[string]healthcheck.Checker)}
	var err error
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		initMemoryStorage(deps, snapshot)
	case config.StorageDriverPostgres:
		err = initPostgresStorage(ctx, deps, cfg, snapshot, logger)
	default:
		err = fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err == nil {
		err = initSessionStore(ctx, deps, cfg, logger)
	}
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

func initMemoryStorage(deps *Dependencies, snapshot catalog.Snapshot) {
	memCatalog := memory.NewCatalog(snapshot.Variants...)
	deps.Catalog = memCatalog
	deps.Sink = memCatalog
	deps.Ledger = memory.NewStockLedger(snapshot.Stock...)
	deps.Orders = memory.NewOrderRepository()
	deps.Quotes = memory.NewQuoteRepository()
	deps.Outbox = memory.NewOutboxRepository()
	deps.Timeline = memory.NewTimelineRepository()
	deps.Idempotency = memory.NewIdempotencyRepository()
	deps.Customers = memory.NewCustomerDirectory(snapshot.Customers...)
}

func initPostgresStorage(ctx context.Context, deps *Dependencies, cfg config.Config, snapshot catalog.Snapshot, logger *log.Entry) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres dsn is required for storage driver postgres")
	}
	store, err := postgres.OpenWithPool(ctx, cfg.Postgres.DSN, postgres.PoolOptions{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	deps.closers = append(deps.closers, store.Close)
	deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)

	if cfg.Postgres.AutoMigrate {
		applied, err := store.MigrateUp(ctx, 0)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.WithField("applied", len(applied)).Info("postgres migrations applied")
	}

	catalogRepo := postgres.NewCatalogRepository(store)
	cached := catalog.NewCachedReader(catalogRepo, cfg.Catalog.CacheTTL)
	ledger := postgres.NewStockLedger(store)
	customers := postgres.NewCustomerDirectory(store)

	deps.Catalog = cached
	deps.Sink = newCatalogSink(catalogRepo, cached, logger)
	deps.Ledger = ledger
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Quotes = postgres.NewQuoteRepository(store)
	deps.Outbox = postgres.NewOutboxRepository(store)
	deps.Timeline = postgres.NewTimelineRepository(store)
	deps.Idempotency = postgres.NewIdempotencyRepository(store)
	deps.Customers = customers

	return seedPostgres(ctx, catalogRepo, ledger, customers, snapshot)
}

// seedPostgres переносит снимок в БД. Остатки засеваются только для новых
// SKU: существующими уровнями владеет складской реестр.
func seedPostgres(ctx context.Context, repo *postgres.CatalogRepository, ledger *postgres.StockLedger, customers domain.CustomerDirectory, snapshot catalog.Snapshot) error {
	if len(snapshot.Variants) == 0 {
		return nil
	}
	if err := repo.ReplaceVariants(ctx, snapshot.Variants); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	for _, level := range snapshot.Stock {
		if err := ledger.Seed(ctx, level); err != nil {
			return fmt.Errorf("seed stock %s: %w", level.SKU, err)
		}
	}
	for _, customer := range snapshot.Customers {
		for _, address := range customer.Addresses {
			if err := customers.Remember(ctx, customer.Email, address); err != nil {
				return fmt.Errorf("seed customer %s: %w", customer.Email, err)
			}
		}
	}
	return nil
}

func initSessionStore(ctx context.Context, deps *Dependencies, cfg config.Config, logger *log.Entry) error {
	switch cfg.Session.Store {
	case config.SessionStoreMemory:
		deps.Sessions = memory.NewSessionStore()
		return nil
	case config.SessionStoreRedis:
		client, err := redisstore.NewClient(ctx, redisstore.ClientOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, client.Close)
		store := redisstore.NewSessionStore(client,
			redisstore.WithIdleTimeout(cfg.Session.IdleTimeout),
			redisstore.WithLogger(logger.WithField("layer", "session-store")),
		)
		deps.Sessions = store
		deps.checkers["redis"] = healthcheck.NewSimpleChecker("redis", store.Ping)
		logger.WithField("addr", cfg.Redis.Addr).Info("redis session store initialized")
		return nil
	default:
		return fmt.Errorf("unsupported session store %q", cfg.Session.Store)
	}
}

// catalogSink применяет перезагруженный снимок к Postgres и сбрасывает кэш.
type catalogSink struct {
	repo    *postgres.CatalogRepository
	cache   *catalog.CachedReader
	logger  *log.Entry
	timeout time.Duration
}

func newCatalogSink(repo *postgres.CatalogRepository, cache *catalog.CachedReader, logger *log.Entry) *catalogSink {
	return &catalogSink{repo: repo, cache: cache, logger: logger, timeout: 10 * time.Second}
}

func (s *catalogSink) ReplaceVariants(variants []domain.Variant) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.repo.ReplaceVariants(ctx, variants); err != nil {
		s.logger.WithError(err).Error("failed to apply catalog snapshot")
		return
	}
	s.cache.Invalidate()
}
