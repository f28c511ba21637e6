package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/intake/internal/config"
	healthcheck "github.com/vladislavdragonenkov/intake/internal/health"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/service/housekeeping"
	"github.com/vladislavdragonenkov/intake/internal/service/outbox"
	"github.com/vladislavdragonenkov/intake/internal/transport"
	"github.com/vladislavdragonenkov/intake/internal/transport/grpcapi"
	"github.com/vladislavdragonenkov/intake/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/intake/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилища, gRPC и HTTP API, сервер метрик и фоновые
// воркеры и работает до отмены ctx.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(log.Fields(version.Current().Fields())).Info("starting intake service")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	m := metrics.NewIntakeMetrics()
	kafkaRT, err := initKafka(cfg.Kafka, deps.Ledger, m, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to initialize kafka, continuing without kafka")
		kafkaRT = nil
	}
	defer func() {
		if err := kafkaRT.close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka")
		}
	}()

	svc := newServices(cfg, deps, m, logger)
	orderReader := transport.OrderReader{Orders: deps.Orders, Timeline: deps.Timeline}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("inference", healthcheck.NewOptionalChecker("inference", svc.breaker.Healthy))

	grpcServer, healthServer := newGRPCServer(svc, orderReader, logger)
	apiHandler := httpapi.NewHandler(svc.engine,
		httpapi.WithOrders(svc.orchestrator, orderReader),
		httpapi.WithHealth(healthHandler),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)
	apiServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: apiHandler, ReadHeaderTimeout: 5 * time.Second}

	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.Metrics.Addr, logger, healthHandler)

	group.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPC.Addr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTP.Addr)
		if err := apiServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	publisher, dlq := kafkaRT.outboxPublishers()
	outboxWorker := outbox.NewWorker(deps.Outbox, publisher,
		outbox.WithDLQPublisher(dlq),
		outbox.WithPollInterval(cfg.Outbox.Interval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryDelay),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
	)
	group.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})

	janitor := housekeeping.NewWorker(svc.engine, deps.Idempotency,
		housekeeping.WithInterval(cfg.Housekeeping.Interval),
		housekeeping.WithBatchSize(cfg.Housekeeping.BatchSize),
		housekeeping.WithLogger(logger.WithField("layer", "housekeeping")),
	)
	group.Go(func() error {
		janitor.Run(gctx)
		return nil
	})

	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(cfg.Catalog.Snapshot, deps.Sink, logger.WithField("layer", "catalog-watcher"))
		group.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if kafkaRT != nil && kafkaRT.consumer != nil {
		if err := kafkaRT.consumer.Start(gctx); err != nil {
			logger.WithError(err).Warn("failed to start restock consumer")
		}
	}

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newGRPCServer регистрирует сервисы диалога и заказов, health и reflection.
func newGRPCServer(svc *services, reader transport.OrderReader, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	api := grpcapi.NewServer(svc.engine,
		grpcapi.WithOrders(svc.orchestrator, reader),
		grpcapi.WithLogger(logger.WithField("layer", "grpc")),
	)
	api.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных вызовов, затем останавливает сервер принудительно.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer обслуживает /metrics и пробы здоровья на отдельном адресе.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
