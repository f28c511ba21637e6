package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/app"
	"github.com/vladislavdragonenkov/intake/internal/config"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Неизвестный уровень заменяется на info с предупреждением.
func setupLogger(level, format string) {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.WithField("level", level).Warn("unknown log level, using info")
		return
	}
	log.SetLevel(parsed)
}

func main() {
	configPath := flag.String("config", os.Getenv("INTAKE_CONFIG"), "path to YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPC.Addr,
		"http_addr":      cfg.HTTP.Addr,
		"metrics_addr":   cfg.Metrics.Addr,
		"storage_driver": cfg.Storage.Driver,
		"session_store":  cfg.Session.Store,
		"kafka":          cfg.Kafka.Enabled(),
	}).Info("запускаем intake-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("intake-service остановлен")
}
