package repository

import (
	"context"

	"finetune-orchestrator/internal/domain/model"
)

// TaskStatusRepository persists the per-run status row. Writes must surface
// failures as errors, never as silent no-ops: a swallowed status write would
// desynchronize pollers from the pipeline.
type TaskStatusRepository interface {
	Create(ctx context.Context, taskID, configID string) (*model.TaskStatus, error)
	Update(ctx context.Context, taskID string, upd model.TaskStatusUpdate) (*model.TaskStatus, error)
	FindLatestByConfig(ctx context.Context, configID string) (*model.TaskStatus, error)
}
