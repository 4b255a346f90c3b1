package adapter

import (
	"context"

	"finetune-orchestrator/internal/domain/model"
)

// PackageSpec describes how to compose a locally runnable model from the
// training artifacts.
type PackageSpec struct {
	ModelName    string
	BaseModel    string
	AdapterDir   string
	OutputDir    string
	SystemPrompt string
}

// ModelPackagerAdapter turns a trained adapter into a model-serving-
// compatible reference. Implementations try adapter-based packaging first and
// must always have a fallback, so the pipeline is never left stuck at the
// import stage.
type ModelPackagerAdapter interface {
	CreateModel(ctx context.Context, spec PackageSpec) (*model.ProcessResult, string, error)
}
