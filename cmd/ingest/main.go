package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tanagerlabs/airdata-ingest/internal/adapter/airnow"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/clarity"
	httpadapter "github.com/tanagerlabs/airdata-ingest/internal/adapter/http"
	kafkaadapter "github.com/tanagerlabs/airdata-ingest/internal/adapter/kafka"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/postgres"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/purpleair"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/quantaq"
	"github.com/tanagerlabs/airdata-ingest/internal/config"
	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/observability"
	"github.com/tanagerlabs/airdata-ingest/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	os.Exit(run(cfg))
}

// run wires the service and returns the process exit code. It is split from
// main so deferred cleanup runs before os.Exit.
func run(cfg *config.Config) int {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer store.Close()

	requester := fetch.New(&http.Client{Timeout: cfg.FetchTimeout}, cfg.BackoffBaseDelay, cfg.BackoffMaxAttempts, logger, metrics)

	sources := buildSources(cfg, requester, logger)
	logger.Info("sources configured", "count", len(sources))

	// Publishing is feature-flagged via KAFKA_BROKERS / KAFKA_TOPIC.
	var publisher pipeline.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		publisher = kp
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	runner := pipeline.New(store, sources, publisher, logger, metrics)

	// Without RUN_INTERVAL the binary behaves like a cron job: one cycle,
	// exit code reports whether it was clean.
	if cfg.RunInterval == 0 {
		if err := runner.RunAll(ctx); err != nil {
			logRunFailure(logger, err)
			return 1
		}
		return 0
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, store, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion loop.
	go func() {
		if err := runner.Run(ctx, cfg.RunInterval); err != nil {
			logger.Error("runner error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

func buildSources(cfg *config.Config, requester *fetch.Requester, logger *slog.Logger) []pipeline.Source {
	var sources []pipeline.Source
	if cfg.Enabled(domain.SourcePurpleAir) {
		sources = append(sources, purpleair.NewClient(cfg.PurpleAir.APIKey, cfg.PurpleAir.Entities, cfg.PurpleAir.Start, requester, logger))
	}
	if cfg.Enabled(domain.SourceClarity) {
		sources = append(sources, clarity.NewClient(cfg.Clarity.APIKey, cfg.Clarity.Entities, cfg.Clarity.Start, cfg.ClarityPollInterval, cfg.ClarityPollAttempts, requester, logger))
	}
	if cfg.Enabled(domain.SourceAirNow) {
		sources = append(sources, airnow.NewClient(cfg.AirNow.Entities, cfg.AirNow.Start, requester, logger))
	}
	if cfg.Enabled(domain.SourceQuantAQ) {
		sources = append(sources, quantaq.NewClient(cfg.QuantAQ.APIKey, cfg.QuantAQ.Entities, cfg.QuantAQ.Start, requester, logger))
	}
	return sources
}

func logRunFailure(logger *slog.Logger, err error) {
	var runErr *domain.RunError
	if errors.As(err, &runErr) {
		logger.Error("ingestion cycle failed", "source", runErr.Source, "entity", runErr.Entity, "stage", runErr.Stage, "error", runErr.Err)
		return
	}
	logger.Error("ingestion cycle failed", "error", err)
}
