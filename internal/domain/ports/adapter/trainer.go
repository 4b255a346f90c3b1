package adapter

import (
	"context"

	"finetune-orchestrator/internal/domain/model"
)

// ProgressFunc receives normalized progress events extracted from the
// trainer's output while it runs.
type ProgressFunc func(ev model.ProgressEvent)

// TrainingSpec is everything the external trainer needs for one run.
type TrainingSpec struct {
	ModelID       string
	DataDir       string
	AdapterDir    string
	NumIterations int
	StepsPerEval  int
	BatchSize     int
	LearningRate  float64
	NumLayers     int
}

// TrainerAdapter runs the external fine-tuning tool. The returned result has
// IsError already classified; err is reserved for failures to run the tool at
// all (spawn errors, not training failures).
type TrainerAdapter interface {
	FineTune(ctx context.Context, spec TrainingSpec, onProgress ProgressFunc) (*model.ProcessResult, error)
}
