package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/ports/repository"
)

var _ repository.DatasetRepository = (*datasetRepo)(nil)

type datasetRepo struct {
	pool *pgxpool.Pool
}

func NewDatasetRepo(pool *pgxpool.Pool) *datasetRepo {
	return &datasetRepo{pool: pool}
}

func (r *datasetRepo) ListRecords(ctx context.Context, datasetID string) ([]string, error) {
	const q = `
SELECT jsonl_content
FROM dataset_output_table
WHERE dataset_id = $1
ORDER BY id;`

	rows, err := r.pool.Query(ctx, q, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []string
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
