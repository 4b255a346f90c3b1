package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"finetune-orchestrator/internal/config"
	"finetune-orchestrator/internal/infra/adapters/hf"
	"finetune-orchestrator/internal/infra/adapters/mlx"
	"finetune-orchestrator/internal/infra/adapters/ollama"
	"finetune-orchestrator/internal/infra/broker"
	pg "finetune-orchestrator/internal/infra/db/postgres"
	"finetune-orchestrator/internal/infra/logging"
	"finetune-orchestrator/internal/infra/metrics"
	"finetune-orchestrator/internal/infra/proc"
	red "finetune-orchestrator/internal/infra/redis"
	"finetune-orchestrator/internal/infra/web"
	"finetune-orchestrator/internal/infra/worker"
	"finetune-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool := pg.MustConnectPostgres(cfg.Database.URL)
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	configRepo := pg.NewConfigRepo(pool)
	datasetRepo := pg.NewDatasetRepo(pool)
	statusRepo := red.NewStatusCache(pg.NewTaskStatusRepo(pool), redisClient, cfg.Redis.TTL)

	// ---- External tool adapters ----
	runner := proc.NewRunner(logger)
	registry := hf.NewRegistry(runner, logger)
	if cfg.Registry.HubURL != "" {
		registry = registry.WithHubURL(cfg.Registry.HubURL)
	}
	trainer := mlx.NewTrainer(runner, mlx.Options{
		Binary:           cfg.Trainer.Binary,
		Timeout:          cfg.Trainer.Timeout,
		FastTransfer:     cfg.Trainer.FastTransfer,
		DisableTelemetry: cfg.Trainer.DisableTelemetry,
	}, logger)
	packager := ollama.NewPackager(runner, cfg.Packager.Timeout, logger)

	// ---- Worker pool ----
	pool2 := worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	// ---- Use case ----
	pipelineUC := usecase.NewPipelineUseCase(
		configRepo, datasetRepo, statusRepo,
		registry, trainer, packager,
		locker, pool2,
		usecase.Options{
			HFToken:    cfg.Registry.Token,
			RunLockTTL: cfg.Pipeline.RunLockTTL,
		},
		logger,
	)

	checks := map[string]web.HealthCheck{
		"database": pool.Ping,
		"redis":    redisClient.Ping,
	}

	// ---- Broker consumer (optional) ----
	if cfg.Broker.URL != "" {
		consumer, err := broker.NewConsumer(cfg.Broker.URL, cfg.Broker.Queue, pipelineUC, logger)
		if err != nil {
			log.Fatalf("broker: %v", err)
		}
		defer consumer.Close()
		checks["broker"] = consumer.Ping
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("broker consumer stopped")
			}
		}()
	}

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.API.JWTSecret, 0)
	srv := web.NewServer(pipelineUC, auth, cfg.API.Timeout, checks, logger)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.API.Port), Handler: srv.Router()}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	_ = server.Shutdown(context.Background())
	cancel()
}
