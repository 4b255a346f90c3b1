// runctl runs one pipeline synchronously or inspects a configuration's
// status from the terminal, without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"

	"finetune-orchestrator/internal/config"
	"finetune-orchestrator/internal/infra/adapters/hf"
	"finetune-orchestrator/internal/infra/adapters/mlx"
	"finetune-orchestrator/internal/infra/adapters/ollama"
	pg "finetune-orchestrator/internal/infra/db/postgres"
	"finetune-orchestrator/internal/infra/logging"
	"finetune-orchestrator/internal/infra/proc"
	red "finetune-orchestrator/internal/infra/redis"
	"finetune-orchestrator/internal/infra/web"
	"finetune-orchestrator/internal/usecase"
)

func main() {
	var action, configID string
	flag.StringVar(&action, "action", "run", "run | status | token")
	flag.StringVar(&configID, "id", "", "configuration id")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if action == "token" {
		auth := web.NewAuthManager(cfg.API.JWTSecret, 0)
		tok, err := auth.Mint("runctl")
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if configID == "" {
		log.Fatal("-id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Warn().Msg("interrupt received, canceling run")
		cancel()
	}()

	pool := pg.MustConnectPostgres(cfg.Database.URL)
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	configRepo := pg.NewConfigRepo(pool)
	datasetRepo := pg.NewDatasetRepo(pool)
	statusRepo := red.NewStatusCache(pg.NewTaskStatusRepo(pool), redisClient, cfg.Redis.TTL)

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

	uc := usecase.NewPipelineUseCase(
		configRepo, datasetRepo, statusRepo,
		registry, trainer, packager,
		red.NewLocker(redisClient), nil,
		usecase.Options{
			HFToken:    cfg.Registry.Token,
			RunLockTTL: cfg.Pipeline.RunLockTTL,
		},
		logger,
	)

	switch action {
	case "run":
		taskID := ulid.Make().String()
		if _, err := statusRepo.Create(ctx, taskID, configID); err != nil {
			log.Fatalf("create task status: %v", err)
		}
		logger.Info().Str("task_id", taskID).Str("config_id", configID).Msg("running pipeline")
		if err := uc.Run(ctx, taskID, configID); err != nil {
			log.Fatalf("run failed: %v", err)
		}
		printStatus(ctx, uc, configID)
	case "status":
		printStatus(ctx, uc, configID)
	default:
		log.Fatalf("unknown action %q", action)
	}
}

func printStatus(ctx context.Context, uc *usecase.PipelineUseCase, configID string) {
	st, err := uc.GetStatus(ctx, configID)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Fatalf("encode status: %v", err)
	}
	fmt.Println(string(out))
}
