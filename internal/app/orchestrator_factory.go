package app

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/config"
	"github.com/vladislavdragonenkov/intake/internal/inference"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/service/conversation"
	"github.com/vladislavdragonenkov/intake/internal/service/intent"
	"github.com/vladislavdragonenkov/intake/internal/service/ordering"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// services: прикладной слой поверх выбранных хранилищ.
type services struct {
	breaker      *inference.CircuitBreaker
	extractor    *intent.Extractor
	resolver     *catalog.Resolver
	orchestrator *ordering.Orchestrator
	engine       *conversation.Engine
}

// newServices собирает извлечение намерений, резолвер, оркестратор и движок диалога.
func newServices(cfg config.Config, deps *Dependencies, m *metrics.IntakeMetrics, logger *log.Entry) *services {
	client := inference.NewOllamaClient(cfg.Inference.BaseURL,
		inference.WithTimeout(cfg.Inference.Timeout),
		inference.WithMetrics(m),
		inference.WithLogger(logger.WithField("layer", "inference")),
	)
	breaker := inference.NewCircuitBreaker(client, breakerMaxFailures, breakerResetTimeout, logger.WithField("layer", "breaker"))
	router := intent.NewModelRouter(cfg.Inference.DefaultModel, cfg.Inference.Models, logger)
	extractor := intent.NewExtractor(breaker,
		intent.WithRouter(router),
		intent.WithLogger(logger.WithField("layer", "intent")),
	)

	resolver := catalog.NewResolver(deps.Catalog,
		catalog.WithMinScore(cfg.Resolver.MinScore),
		catalog.WithAmbiguityTolerance(cfg.Resolver.AmbiguityTolerance),
		catalog.WithLogger(logger.WithField("layer", "resolver")),
	)

	orchestrator := ordering.NewOrchestrator(deps.Catalog, deps.Ledger, deps.Orders, deps.Quotes,
		ordering.WithOutbox(deps.Outbox),
		ordering.WithTimeline(deps.Timeline),
		ordering.WithIdempotency(deps.Idempotency),
		ordering.WithQuoteValidity(cfg.Quote.Validity),
		ordering.WithIdempotencyTTL(cfg.Housekeeping.IdempotencyTTL),
		ordering.WithMetrics(m),
		ordering.WithLogger(logger.WithField("layer", "ordering")),
	)

	engine := conversation.NewEngine(deps.Sessions, extractor, resolver, orchestrator,
		conversation.WithCustomers(deps.Customers),
		conversation.WithIdleTimeout(cfg.Session.IdleTimeout),
		conversation.WithTopN(cfg.Resolver.TopN),
		conversation.WithMetrics(m),
		conversation.WithLogger(logger.WithField("layer", "conversation")),
	)

	return &services{
		breaker:      breaker,
		extractor:    extractor,
		resolver:     resolver,
		orchestrator: orchestrator,
		engine:       engine,
	}
}
