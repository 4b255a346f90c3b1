package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/domain/ports/repository"
	"finetune-orchestrator/internal/infra/logging"
	"finetune-orchestrator/internal/infra/metrics"
)

// Stage progress anchors. The FINETUNING range (50-100) is filled in by the
// progress extractor while the trainer runs.
const (
	progressDatasetCreation = 20
	progressDatasetComplete = 40
	progressHFLogin         = 40
	progressFinetuning      = 50
	progressCreatingModel   = 90
	progressOllamaImport    = 99
	progressCompleted       = 100
)

// Locker serializes runs per configuration. The redis implementation is the
// production one; a nil Locker disables the check.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Submitter hands the run off to a background worker. Launch is
// fire-and-forget; the pool owns the run's lifetime afterwards.
type Submitter interface {
	Submit(task func(ctx context.Context) error) error
}

// Options carries the environment-driven knobs of the pipeline.
type Options struct {
	// HFToken is the model registry credential. It is only required once a
	// run reaches the HF_LOGIN stage; a missing token is a hard failure
	// there, never a silent skip.
	HFToken string

	// RunLockTTL bounds how long a config's run lock can outlive a crashed
	// worker.
	RunLockTTL time.Duration
}

// PipelineUseCase drives a fine-tuning run through its stages, persisting
// status at every transition so pollers can observe progress mid-flight.
// It never retries internally: a failed run is re-invoked whole, with a
// fresh task id, by whoever scheduled it.
type PipelineUseCase struct {
	configs  repository.ConfigRepository
	datasets repository.DatasetRepository
	statuses repository.TaskStatusRepository
	registry adapter.ModelRegistryAdapter
	trainer  adapter.TrainerAdapter
	packager adapter.ModelPackagerAdapter
	locker   Locker
	pool     Submitter
	opts     Options
	log      *zerolog.Logger
}

func NewPipelineUseCase(
	configs repository.ConfigRepository,
	datasets repository.DatasetRepository,
	statuses repository.TaskStatusRepository,
	registry adapter.ModelRegistryAdapter,
	trainer adapter.TrainerAdapter,
	packager adapter.ModelPackagerAdapter,
	locker Locker,
	pool Submitter,
	opts Options,
	log *zerolog.Logger,
) *PipelineUseCase {
	if opts.RunLockTTL <= 0 {
		opts.RunLockTTL = 6 * time.Hour
	}
	return &PipelineUseCase{
		configs:  configs,
		datasets: datasets,
		statuses: statuses,
		registry: registry,
		trainer:  trainer,
		packager: packager,
		locker:   locker,
		pool:     pool,
		opts:     opts,
		log:      log,
	}
}

// Launch starts a pipeline run for the configuration and returns the new
// task id without waiting for the run. Each invocation gets a fresh task id;
// the config's coarse status always reflects the most recent run.
func (uc *PipelineUseCase) Launch(ctx context.Context, configID string) (string, error) {
	taskID := ulid.Make().String()

	var lockToken string
	if uc.locker != nil {
		token, err := uc.locker.TryLock(ctx, runLockKey(configID), uc.opts.RunLockTTL)
		if err != nil {
			return "", fmt.Errorf("%w: %s", domain.ErrRunAlreadyActive, configID)
		}
		lockToken = token
	}

	if _, err := uc.statuses.Create(ctx, taskID, configID); err != nil {
		uc.unlock(ctx, configID, lockToken)
		return "", fmt.Errorf("create task status: %w", err)
	}

	run := func(runCtx context.Context) error {
		defer uc.unlock(runCtx, configID, lockToken)
		return uc.Run(runCtx, taskID, configID)
	}
	if uc.pool == nil {
		go func() { _ = run(context.Background()) }()
		return taskID, nil
	}
	if err := uc.pool.Submit(run); err != nil {
		uc.unlock(ctx, configID, lockToken)
		return "", err
	}
	return taskID, nil
}

// GetStatus returns the latest task status for the configuration.
func (uc *PipelineUseCase) GetStatus(ctx context.Context, configID string) (*model.TaskStatus, error) {
	return uc.statuses.FindLatestByConfig(ctx, configID)
}

// Run executes the pipeline synchronously. The task status row must already
// exist (Launch creates it; the CLI path creates one itself). Any stage error
// is persisted as FAILED, preserving the last known progress, and returned to
// the caller so the surrounding scheduler can apply its own retry policy.
func (uc *PipelineUseCase) Run(ctx context.Context, taskID, configID string) (err error) {
	started := time.Now()
	stage := model.StagePreparing
	defer func() {
		if err != nil {
			uc.failRun(taskID, configID, stage, err)
			metrics.ObservePipelineRun(string(model.StageFailed), time.Since(started))
		} else {
			metrics.ObservePipelineRun(string(model.StageCompleted), time.Since(started))
		}
	}()

	ctx = logging.WithTaskID(ctx, taskID)
	ctx = logging.WithConfigID(ctx, configID)
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "PipelineUseCase.Run")()
	log.Info().Msg("pipeline run starting")

	// PREPARING: both the configuration and its dataset must resolve
	// before any stage work begins.
	cfg, err := uc.configs.FindByID(ctx, configID)
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", configID, err)
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("%w: configuration %s has no output directory", domain.ErrInvalidArgument, configID)
	}
	if !cfg.SplitsValid() {
		return fmt.Errorf("%w: %d/%d/%d", domain.ErrInvalidSplit, cfg.TrainSplit, cfg.ValidationSplit, cfg.TestSplit)
	}
	records, err := uc.datasets.ListRecords(ctx, cfg.DatasetID)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", cfg.DatasetID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmptyDataset, cfg.DatasetID)
	}
	if err := uc.configs.SetStatus(ctx, configID, model.ConfigStatusInProgress); err != nil {
		return fmt.Errorf("set config status: %w", err)
	}

	// DATASET_CREATION
	stage = model.StageDatasetCreation
	if err := uc.transition(ctx, taskID, stage, "Creating the JSONL files for fine tuning", progressDatasetCreation, nil, nil); err != nil {
		return err
	}
	split, err := SplitDataset(records, cfg.ValidationSplit, cfg.TestSplit, cfg.OutputDir, nil)
	if err != nil {
		return fmt.Errorf("dataset split: %w", err)
	}

	// DATASET_COMPLETE
	stage = model.StageDatasetComplete
	metricsMap := map[string]any{
		"train_file":    split.TrainFile,
		"valid_file":    split.ValidFile,
		"test_file":     split.TestFile,
		"total_records": split.Total,
		"train_records": split.TrainCount,
		"valid_records": split.ValidCount,
		"test_records":  split.TestCount,
	}
	if err := uc.transition(ctx, taskID, stage, "Dataset creation completed", progressDatasetComplete, metricsMap, nil); err != nil {
		return err
	}

	// HF_LOGIN: a missing credential is a hard failure, never a skip.
	stage = model.StageHFLogin
	if err := uc.transition(ctx, taskID, stage, "Logging in to Hugging Face", progressHFLogin, nil, nil); err != nil {
		return err
	}
	if uc.opts.HFToken == "" {
		return domain.ErrMissingCredential
	}
	loginRes, err := uc.registry.Login(ctx, uc.opts.HFToken)
	if err != nil {
		return fmt.Errorf("registry login: %w", err)
	}
	if loginRes.ExitCode != 0 {
		return fmt.Errorf("registry login failed: %s", loginRes.Stderr)
	}

	// FINETUNING
	stage = model.StageFinetuning
	if err := uc.transition(ctx, taskID, stage, "Starting fine-tuning", progressFinetuning, nil, nil); err != nil {
		return err
	}
	modelID, err := uc.registry.ResolveWorkingModel(ctx, cfg.BaseModel)
	if err != nil {
		return err
	}
	if !uc.registry.TestCompatibility(ctx, modelID) {
		// Advisory only: known-awkward configurations are logged, not blocked.
		log.Warn().Str("model", modelID).Msg("model flagged incompatible with the current trainer, continuing")
	}

	batch := ClampBatchSize(cfg.BatchSize, split.MinSplitCount())
	if batch != cfg.BatchSize {
		log.Info().Int("requested", cfg.BatchSize).Int("clamped", batch).Msg("batch size clamped to smallest split")
	}

	trainStarted := time.Now()
	trainRes, err := uc.trainer.FineTune(ctx, adapter.TrainingSpec{
		ModelID:       modelID,
		DataDir:       cfg.OutputDir,
		NumIterations: cfg.NumIterations,
		StepsPerEval:  cfg.StepsPerEval,
		BatchSize:     batch,
		LearningRate:  cfg.LearningRate,
		NumLayers:     cfg.NumLayers,
	}, func(ev model.ProgressEvent) {
		uc.applyProgress(ctx, taskID, ev)
	})
	metrics.ObserveProcessRun("mlx_lm.lora", time.Since(trainStarted), err == nil && trainRes != nil && !trainRes.IsError)
	if err != nil {
		return fmt.Errorf("fine-tuning: %w", err)
	}
	if trainRes.IsError {
		return fmt.Errorf("fine-tuning failed: %s", tail(trainRes.Stderr, 2000))
	}
	if trainRes.ExitCode != 0 {
		metrics.IncClassifierRescue()
	}
	// Classified success force-advances to 100% even when the last parsed
	// event reported less.
	if err := uc.transition(ctx, taskID, stage, "Fine-tuning completed successfully", progressCompleted, nil, nil); err != nil {
		return err
	}

	// CREATING_MODEL / OLLAMA_IMPORT
	stage = model.StageCreatingModel
	if err := uc.transition(ctx, taskID, stage, "Creating Modelfile", progressCreatingModel, nil, nil); err != nil {
		return err
	}
	stage = model.StageOllamaImport
	if err := uc.transition(ctx, taskID, stage, "Importing into Ollama", progressOllamaImport, nil, nil); err != nil {
		return err
	}
	pkgRes, strategy, err := uc.packager.CreateModel(ctx, adapter.PackageSpec{
		ModelName:    cfg.TargetModel,
		BaseModel:    cfg.ModelType,
		AdapterDir:   filepath.Join(cfg.OutputDir, "adapters"),
		OutputDir:    cfg.OutputDir,
		SystemPrompt: cfg.SystemPrompt,
	})
	if err != nil {
		if pkgRes != nil {
			return fmt.Errorf("model import failed: %s", tail(pkgRes.Stderr, 2000))
		}
		return fmt.Errorf("model import: %w", err)
	}

	// COMPLETED
	stage = model.StageCompleted
	result := map[string]any{
		"model_path": cfg.OutputDir,
		"model_name": cfg.TargetModel,
		"base_model": modelID,
		"strategy":   strategy,
	}
	if err := uc.transition(ctx, taskID, stage, "Fine-tuning completed", progressCompleted, nil, result); err != nil {
		return err
	}
	if err := uc.configs.SetStatus(ctx, configID, model.ConfigStatusCompleted); err != nil {
		return fmt.Errorf("set config status: %w", err)
	}

	log.Info().Dur("duration", time.Since(started)).Msg("pipeline run completed")
	return nil
}

// transition persists a stage boundary. A failed status write propagates:
// swallowing it would desynchronize observers from the pipeline.
func (uc *PipelineUseCase) transition(ctx context.Context, taskID string, stage model.Stage, step string, progress float64, metricsMap, result map[string]any) error {
	_, err := uc.statuses.Update(ctx, taskID, model.TaskStatusUpdate{
		Status:      stage,
		CurrentStep: model.StrPtr(step),
		Progress:    model.Float64Ptr(progress),
		Metrics:     metricsMap,
		Result:      result,
	})
	if err != nil {
		return fmt.Errorf("persist %s transition: %w", stage, err)
	}
	metrics.IncStageTransition(string(stage))
	return nil
}

// applyProgress forwards an extracted progress event to the status row.
// Events arrive from the runner's reader goroutines mid-stage; a write
// failure here only logs, because killing a healthy training run over a
// transient status-write hiccup would be worse than a stale progress bar.
func (uc *PipelineUseCase) applyProgress(ctx context.Context, taskID string, ev model.ProgressEvent) {
	upd := model.TaskStatusUpdate{
		Status:      model.StageFinetuning,
		CurrentStep: model.StrPtr(ev.Description),
		Progress:    ev.Percent,
	}
	if _, err := uc.statuses.Update(ctx, taskID, upd); err != nil {
		uc.log.Error().Err(err).Str("task_id", taskID).Msg("progress update failed")
	}
}

// failRun writes the terminal FAILED status, preserving the last persisted
// step and progress (best effort; defaults when unreadable), and marks the
// configuration Failed. Uses a fresh context: the run's own context may
// already be canceled.
func (uc *PipelineUseCase) failRun(taskID, configID string, stage model.Stage, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lastStep := "Unknown step"
	lastProgress := 0.0
	if st, err := uc.statuses.FindLatestByConfig(ctx, configID); err == nil && st != nil {
		lastStep = st.CurrentStep
		lastProgress = st.Progress
	}

	msg := fmt.Sprintf("%s: %v", stage, cause)
	if _, err := uc.statuses.Update(ctx, taskID, model.TaskStatusUpdate{
		Status:      model.StageFailed,
		CurrentStep: model.StrPtr(lastStep),
		Progress:    model.Float64Ptr(lastProgress),
		Error:       model.StrPtr(msg),
	}); err != nil {
		uc.log.Error().Err(err).Str("task_id", taskID).Msg("failed to persist FAILED status")
	}
	if err := uc.configs.SetStatus(ctx, configID, model.ConfigStatusFailed); err != nil {
		uc.log.Error().Err(err).Str("config_id", configID).Msg("failed to set config status")
	}
	uc.log.Error().Err(cause).Str("task_id", taskID).Str("stage", string(stage)).Msg("pipeline run failed")
}

func (uc *PipelineUseCase) unlock(ctx context.Context, configID, token string) {
	if uc.locker == nil || token == "" {
		return
	}
	if err := uc.locker.Unlock(ctx, runLockKey(configID), token); err != nil {
		uc.log.Error().Err(err).Str("config_id", configID).Msg("run lock release failed")
	}
}

func runLockKey(configID string) string { return "finetune:run:" + configID }

// tail returns at most n trailing bytes of s, for bounded error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
