package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/adapter"
)

func testConfig(t *testing.T) *model.PipelineConfig {
	t.Helper()
	return &model.PipelineConfig{
		ID:              "cfg-1",
		BaseModel:       "meta-llama/Llama-3.2-1B",
		ModelType:       "llama3.2",
		DatasetID:       "ds-1",
		NumIterations:   100,
		StepsPerEval:    10,
		LearningRate:    1e-5,
		NumLayers:       16,
		BatchSize:       4,
		TrainSplit:      70,
		ValidationSplit: 20,
		TestSplit:       10,
		OutputDir:       t.TempDir(),
		TargetModel:     "my-tuned-model",
		SystemPrompt:    "You are concise.",
		Status:          model.ConfigStatusPending,
	}
}

type fixture struct {
	configs  *MockConfigRepo
	datasets *MockDatasetRepo
	statuses *MemStatusRepo
	registry *MockRegistry
	trainer  *MockTrainer
	packager *MockPackager
	uc       *PipelineUseCase
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	cfg := testConfig(t)
	f := &fixture{
		configs: &MockConfigRepo{
			FindByIDFunc: func(_ context.Context, id string) (*model.PipelineConfig, error) {
				if id != cfg.ID {
					return nil, domain.ErrNotFound
				}
				return cfg, nil
			},
		},
		datasets: &MockDatasetRepo{
			ListRecordsFunc: func(_ context.Context, _ string) ([]string, error) {
				return makeRecords(10), nil
			},
		},
		statuses: NewMemStatusRepo(),
		registry: &MockRegistry{},
		trainer:  &MockTrainer{},
		packager: &MockPackager{},
	}
	log := zerolog.Nop()
	f.uc = NewPipelineUseCase(
		f.configs, f.datasets, f.statuses,
		f.registry, f.trainer, f.packager,
		nil, nil, opts, &log,
	)
	return f
}

func TestRun_HappyPathWalksAllStages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}

	if err := f.uc.Run(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.Stage{
		model.StageDatasetCreation,
		model.StageDatasetComplete,
		model.StageHFLogin,
		model.StageFinetuning,
		model.StageCreatingModel,
		model.StageOllamaImport,
		model.StageCompleted,
	}
	got := f.statuses.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d: expected %s got %s (full: %v)", i, want[i], got[i], got)
		}
	}

	st, err := f.statuses.FindLatestByConfig(context.Background(), "cfg-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != model.StageCompleted || st.Progress != 100 {
		t.Fatalf("expected COMPLETED at 100, got %s at %v", st.Status, st.Progress)
	}
	if st.Result["strategy"] != "adapter" {
		t.Fatalf("result missing winning strategy: %v", st.Result)
	}

	cs := f.configs.Statuses()
	if len(cs) != 2 || cs[0] != model.ConfigStatusInProgress || cs[1] != model.ConfigStatusCompleted {
		t.Fatalf("unexpected config status sequence: %v", cs)
	}
}

func TestRun_BatchClampedToSmallestSplit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	// 10 records at 70/20/10 split into 7/2/1, so a batch of 4 exceeds the
	// smallest split and must be clamped to 1.
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.uc.Run(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	specs := f.trainer.Specs()
	if len(specs) != 1 {
		t.Fatalf("expected one training run, got %d", len(specs))
	}
	if specs[0].BatchSize != 1 {
		t.Fatalf("expected batch clamped to 1, got %d", specs[0].BatchSize)
	}
}

func TestRun_MissingTokenFailsAtLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}

	err := f.uc.Run(context.Background(), "task-1", "cfg-1")
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	st, err := f.statuses.FindLatestByConfig(context.Background(), "cfg-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != model.StageFailed {
		t.Fatalf("expected FAILED, got %s", st.Status)
	}
	if !strings.Contains(st.Error, string(model.StageHFLogin)) {
		t.Fatalf("error should name the failing stage, got %q", st.Error)
	}
	// Progress sticks at the last persisted value instead of resetting.
	if st.Progress != 40 {
		t.Fatalf("expected progress preserved at 40, got %v", st.Progress)
	}

	cs := f.configs.Statuses()
	if len(cs) == 0 || cs[len(cs)-1] != model.ConfigStatusFailed {
		t.Fatalf("config should end Failed, got %v", cs)
	}
}

func TestRun_TrainerClassifiedFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.trainer.FineTuneFunc = func(_ context.Context, _ adapter.TrainingSpec, _ adapter.ProgressFunc) (*model.ProcessResult, error) {
		return &model.ProcessResult{
			ExitCode: 1,
			Stderr:   "RuntimeError: tensor shape mismatch",
			IsError:  true,
		}, nil
	}
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}

	err := f.uc.Run(context.Background(), "task-1", "cfg-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "tensor shape mismatch") {
		t.Fatalf("error should carry trainer stderr, got %v", err)
	}

	st, _ := f.statuses.FindLatestByConfig(context.Background(), "cfg-1")
	if st.Status != model.StageFailed {
		t.Fatalf("expected FAILED, got %s", st.Status)
	}
}

func TestRun_NonZeroExitRescuedByClassifier(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.trainer.FineTuneFunc = func(_ context.Context, _ adapter.TrainingSpec, onProgress adapter.ProgressFunc) (*model.ProcessResult, error) {
		onProgress(model.ProgressEvent{Percent: model.Float64Ptr(75), Description: "Training iteration 50/100"})
		return &model.ProcessResult{ExitCode: 2, Stderr: "warning: noisy teardown", IsError: false}, nil
	}
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}

	if err := f.uc.Run(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatalf("a rescued exit must not fail the run: %v", err)
	}

	// The run force-advances to 100 even though the last event said 75.
	var sawForceAdvance bool
	for _, u := range f.statuses.Updates() {
		if u.Status == model.StageFinetuning && u.Progress != nil && *u.Progress == 100 {
			sawForceAdvance = true
		}
	}
	if !sawForceAdvance {
		t.Fatal("expected FINETUNING force-advanced to 100 after classified success")
	}
}

func TestRun_ProgressEventsForwarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.trainer.FineTuneFunc = func(_ context.Context, _ adapter.TrainingSpec, onProgress adapter.ProgressFunc) (*model.ProcessResult, error) {
		onProgress(model.ProgressEvent{Percent: model.Float64Ptr(63), Description: "Training iteration 10/100"})
		onProgress(model.ProgressEvent{Description: "Validation loss 1.92"})
		return &model.ProcessResult{ExitCode: 0}, nil
	}
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.uc.Run(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawIter, sawValidation bool
	for _, u := range f.statuses.Updates() {
		if u.CurrentStep == nil {
			continue
		}
		if *u.CurrentStep == "Training iteration 10/100" && u.Progress != nil && *u.Progress == 63 {
			sawIter = true
		}
		// A description-only event must not carry a progress value.
		if *u.CurrentStep == "Validation loss 1.92" && u.Progress == nil {
			sawValidation = true
		}
	}
	if !sawIter || !sawValidation {
		t.Fatalf("progress events not forwarded faithfully (iter=%v validation=%v)", sawIter, sawValidation)
	}
}

func TestRun_EmptyDataset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.datasets.ListRecordsFunc = func(_ context.Context, _ string) ([]string, error) {
		return nil, nil
	}
	if _, err := f.statuses.Create(context.Background(), "task-1", "cfg-1"); err != nil {
		t.Fatal(err)
	}
	err := f.uc.Run(context.Background(), "task-1", "cfg-1")
	if !errors.Is(err, domain.ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestRun_UnknownConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	if _, err := f.statuses.Create(context.Background(), "task-1", "missing"); err != nil {
		t.Fatal(err)
	}
	err := f.uc.Run(context.Background(), "task-1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLaunch_RunsThroughSubmitter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.uc.pool = &SyncSubmitter{}

	taskID, err := f.uc.Launch(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID == "" {
		t.Fatal("expected a task id")
	}

	st, err := f.statuses.FindLatestByConfig(context.Background(), "cfg-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TaskID != taskID {
		t.Fatalf("status row keyed by %s, expected %s", st.TaskID, taskID)
	}
	if st.Status != model.StageCompleted {
		t.Fatalf("expected COMPLETED after inline run, got %s", st.Status)
	}
}

func TestLaunch_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.uc.pool = &SyncSubmitter{}
	f.uc.locker = &MockLocker{
		TryLockFunc: func(_ context.Context, _ string, _ time.Duration) (string, error) {
			return "", errors.New("lock held")
		},
	}

	_, err := f.uc.Launch(context.Background(), "cfg-1")
	if !errors.Is(err, domain.ErrRunAlreadyActive) {
		t.Fatalf("expected ErrRunAlreadyActive, got %v", err)
	}
}

func TestLaunch_ReleasesLockAfterRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HFToken: "hf_test"})
	f.uc.pool = &SyncSubmitter{}
	var unlocked bool
	f.uc.locker = &MockLocker{
		UnlockFunc: func(_ context.Context, key, token string) error {
			if key != "finetune:run:cfg-1" || token != "token" {
				t.Errorf("unexpected unlock key/token: %s/%s", key, token)
			}
			unlocked = true
			return nil
		},
	}

	if _, err := f.uc.Launch(context.Background(), "cfg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !unlocked {
		t.Fatal("run lock was not released")
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	if _, err := f.statuses.Create(context.Background(), "task-9", "cfg-1"); err != nil {
		t.Fatal(err)
	}
	st, err := f.uc.GetStatus(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TaskID != "task-9" {
		t.Fatalf("expected task-9, got %s", st.TaskID)
	}

	if _, err := f.uc.GetStatus(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
