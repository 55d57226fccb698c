package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/flowforge/pipelinectl/internal/anomaly"
	"github.com/flowforge/pipelinectl/internal/config"
	"github.com/flowforge/pipelinectl/internal/coordination"
	"github.com/flowforge/pipelinectl/internal/engine"
	"github.com/flowforge/pipelinectl/internal/events"
	"github.com/flowforge/pipelinectl/internal/handlers"
	"github.com/flowforge/pipelinectl/internal/httpapi"
	"github.com/flowforge/pipelinectl/internal/logging"
	"github.com/flowforge/pipelinectl/internal/metrics"
	"github.com/flowforge/pipelinectl/internal/ports"
	"github.com/flowforge/pipelinectl/internal/remediation"
	"github.com/flowforge/pipelinectl/internal/risk"
	"github.com/flowforge/pipelinectl/internal/store"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline execution service: Trigger API, supervisor, and liveness reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootFlags) error {
	// Startup events happen before the real logger can be built (it needs
	// cfg.LogLevel from config that may itself fail to load), so they are
	// captured here and replayed once appLogger exists.
	startupBuffer := logging.NewEventBuffer(64)
	startupLogger := logging.NewBufferedLogger(startupBuffer)
	startupLogger.Info(ctx, "loading service config", "path", root.configPath)

	cfg, err := config.LoadServiceConfig(root.configPath)
	if err != nil {
		return fmt.Errorf("load service config: %w", err)
	}

	logLevel := cfg.LogLevel
	if root.verbose {
		logLevel = "debug"
	}
	appLogger, err := logging.New(logging.Options{Level: logLevel, Component: "pipelinectl", Layer: "infrastructure"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	startupBuffer.Flush(appLogger)
	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)

	appLogger.Info(ctx, "connecting to postgres", "addr", cfg.PostgresDSN)
	db, err := sqlx.Connect("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db.DB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	durableStore := store.NewPostgres(db)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCoord := coordination.NewRedis(redisClient)
	coord := coordination.NewFallback(redisCoord, gobreaker.Settings{Name: "coordination"})

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewPrometheus(registry, cfg.MetricsNamespace)

	eventPublisher := events.NewLoggingPublisher(appLogger.With("component", "events"))
	handlerRegistry := handlers.NewDefaultRegistry()

	runner := engine.NewRunner(durableStore, coord, handlerRegistry, appLogger.With("component", "runner"), metricsCollector)
	supervisorCfg := engine.DefaultSupervisorConfig()
	supervisorCfg.HeartbeatInterval = cfg.HeartbeatInterval
	supervisorCfg.HeartbeatTTL = cfg.HeartbeatTTL
	supervisorCfg.ShutdownGrace = cfg.ShutdownGrace
	supervisorCfg.StatsWindowDays = cfg.StatsWindowDays
	supervisorCfg.RiskThresholds = ports.RiskThresholds{
		Low:           cfg.RiskThresholds.Low,
		Medium:        cfg.RiskThresholds.Medium,
		High:          cfg.RiskThresholds.High,
		BlockHighRisk: cfg.RiskThresholds.BlockHighRisk,
	}

	supervisor := engine.NewSupervisor(
		durableStore, coord, engine.NewPlanner(), runner,
		risk.NewScorer(), remediation.NewSelector(), anomaly.NewDetector(),
		appLogger.With("component", "supervisor"), eventPublisher, metricsCollector,
		supervisorCfg,
	)

	reaper := engine.NewReaper(durableStore, coord, appLogger.With("component", "reaper"), cfg.HeartbeatInterval)
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.Run(reaperCtx)

	accessLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	server := httpapi.NewServer(supervisor, durableStore, accessLog, cfg.CallbackSecret)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "trigger API listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stopSignal:
	case <-ctx.Done():
	}

	appLogger.Info(ctx, "shutting down", "grace", cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
