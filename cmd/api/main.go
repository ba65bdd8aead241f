package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/config"
	"github.com/zhouzirui/guest-roleplay/backend/internal/handler"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/observability/metrics"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/completion"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/evaluator"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/guest"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/workflow"
	"github.com/zhouzirui/guest-roleplay/backend/internal/store"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Production)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger.Logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using process environment", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	trainingMetrics := metrics.NewTrainingMetrics(registry)

	personas := persona.NewMemoryStore(persona.Seed())
	scenarios := scenario.NewMemoryStore(scenario.Seed())

	deps := handler.Dependencies{
		Personas:       personas,
		Scenarios:      scenarios,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StreamTokens:   cfg.AI.StreamResponse,
		Logger:         logger,
	}

	if cfg.AI.Enabled() {
		sessions, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() {
			if err := sessions.Close(); err != nil {
				logger.Warn("failed to close session store", zap.Error(err))
			}
		}()

		svc, wf, err := buildTraining(ctx, cfg, sessions, personas, scenarios, trainingMetrics, logger)
		if err != nil {
			return err
		}
		deps.Training = svc
		deps.Workflow = wf
		logger.Info("training workflow ready",
			zap.String("model", cfg.AI.Model),
			zap.String("store", cfg.Store.Backend),
		)
	} else {
		logger.Warn("Ark credentials not configured, session routes are disabled")
	}

	return startServer(ctx, cfg.Server, handler.NewRouter(deps), logger)
}

type sessionStore interface {
	training.Store
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig) (sessionStore, error) {
	switch cfg.Backend {
	case "redis":
		s, err := store.NewRedis(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}

func buildTraining(
	ctx context.Context,
	cfg *config.Config,
	sessions training.Store,
	personas persona.Store,
	scenarios scenario.Store,
	m *metrics.TrainingMetrics,
	logger *logging.Logger,
) (*training.Service, *workflow.Workflow, error) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create chat model: %w", err)
	}

	client, err := ai.NewClient(ctx, chatModel,
		ai.WithTimeout(cfg.AI.ModelTimeout),
		ai.WithLogger(logger),
		ai.WithMetrics(m),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create model client: %w", err)
	}

	generator := guest.NewGenerator(client, cfg.Training.HistoryWindow, logger)
	wf, err := workflow.New(ctx,
		generator,
		evaluator.New(client, cfg.Training.HistoryWindow, logger),
		completion.NewDetector(cfg.Training.DefaultMaxTurns),
		workflow.WithLogger(logger),
		workflow.WithMetrics(m),
	)
	if err != nil {
		return nil, nil, err
	}

	svc := training.NewService(sessions, wf, generator, scenarios, personas, logger)
	return svc, wf, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("guest roleplay backend listening", zap.String("addr", serverCfg.Addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
