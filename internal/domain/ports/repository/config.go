package repository

import (
	"context"

	"finetune-orchestrator/internal/domain/model"
)

// ConfigRepository reads fine-tune configurations and maintains their coarse
// status. The orchestrator never creates or deletes configurations; that is
// the CRUD layer's job.
type ConfigRepository interface {
	FindByID(ctx context.Context, id string) (*model.PipelineConfig, error)
	SetStatus(ctx context.Context, id string, status model.ConfigStatus) error
}
