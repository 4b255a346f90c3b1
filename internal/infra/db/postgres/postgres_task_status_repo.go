package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/repository"
)

var _ repository.TaskStatusRepository = (*taskStatusRepo)(nil)

type taskStatusRepo struct {
	pool *pgxpool.Pool
}

func NewTaskStatusRepo(pool *pgxpool.Pool) *taskStatusRepo {
	return &taskStatusRepo{pool: pool}
}

func (r *taskStatusRepo) Create(ctx context.Context, taskID, configID string) (*model.TaskStatus, error) {
	now := time.Now()
	const q = `
INSERT INTO finetune_task_status (task_id, config_id, status, current_step, progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6);`

	_, err := r.pool.Exec(ctx, q, taskID, configID, string(model.StagePreparing), "Preparing", 0.0, now)
	if err != nil {
		return nil, err
	}
	return &model.TaskStatus{
		TaskID:      taskID,
		ConfigID:    configID,
		Status:      model.StagePreparing,
		CurrentStep: "Preparing",
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Update applies a partial update. Nil fields keep the stored value via
// COALESCE, so mid-stage progress writes never wipe accumulated metrics.
func (r *taskStatusRepo) Update(ctx context.Context, taskID string, upd model.TaskStatusUpdate) (*model.TaskStatus, error) {
	metricsJSON, err := marshalNullable(upd.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	resultJSON, err := marshalNullable(upd.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	const q = `
UPDATE finetune_task_status
SET status       = $2,
    current_step = COALESCE($3, current_step),
    progress     = COALESCE($4, progress),
    error        = COALESCE($5, error),
    metrics      = COALESCE($6, metrics),
    result       = COALESCE($7, result),
    updated_at   = $8
WHERE task_id = $1
RETURNING task_id, config_id, status, current_step, progress,
          COALESCE(error, ''), metrics, result, created_at, updated_at;`

	row := r.pool.QueryRow(ctx, q,
		taskID, string(upd.Status), upd.CurrentStep, upd.Progress, upd.Error,
		metricsJSON, resultJSON, time.Now())
	return scanStatus(row)
}

func (r *taskStatusRepo) FindLatestByConfig(ctx context.Context, configID string) (*model.TaskStatus, error) {
	const q = `
SELECT task_id, config_id, status, current_step, progress,
       COALESCE(error, ''), metrics, result, created_at, updated_at
FROM finetune_task_status
WHERE config_id = $1
ORDER BY created_at DESC
LIMIT 1;`

	return scanStatus(r.pool.QueryRow(ctx, q, configID))
}

func scanStatus(row pgx.Row) (*model.TaskStatus, error) {
	var st model.TaskStatus
	var statusStr string
	var metricsJSON, resultJSON []byte
	err := row.Scan(
		&st.TaskID, &st.ConfigID, &statusStr, &st.CurrentStep, &st.Progress,
		&st.Error, &metricsJSON, &resultJSON, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	st.Status = model.Stage(statusStr)
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &st.Metrics); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &st.Result); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &st, nil
}

// marshalNullable keeps nil maps as SQL NULL so COALESCE preserves the
// stored value.
func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
