package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/repository"
)

var _ repository.ConfigRepository = (*configRepo)(nil)

type configRepo struct {
	pool *pgxpool.Pool
}

func NewConfigRepo(pool *pgxpool.Pool) *configRepo {
	return &configRepo{pool: pool}
}

func (r *configRepo) FindByID(ctx context.Context, id string) (*model.PipelineConfig, error) {
	const q = `
SELECT id, base_model, model_type, dataset_id,
       num_iterations, steps_per_eval, learning_rate, num_layers, batch_size,
       train_split, validation_split, test_split,
       output_dir, target_model, system_prompt, status, created_at, updated_at
FROM finetune_master_table
WHERE id = $1;`

	var cfg model.PipelineConfig
	var statusStr string
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&cfg.ID, &cfg.BaseModel, &cfg.ModelType, &cfg.DatasetID,
		&cfg.NumIterations, &cfg.StepsPerEval, &cfg.LearningRate, &cfg.NumLayers, &cfg.BatchSize,
		&cfg.TrainSplit, &cfg.ValidationSplit, &cfg.TestSplit,
		&cfg.OutputDir, &cfg.TargetModel, &cfg.SystemPrompt, &statusStr, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	cfg.Status = model.ConfigStatus(statusStr)
	return &cfg, nil
}

func (r *configRepo) SetStatus(ctx context.Context, id string, status model.ConfigStatus) error {
	const q = `
UPDATE finetune_master_table
SET status = $2, updated_at = $3
WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id, string(status), time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
