package repository

import "context"

// DatasetRepository exposes the raw text records of a dataset. Each record is
// one JSONL blob as produced by the dataset-generation layer.
type DatasetRepository interface {
	ListRecords(ctx context.Context, datasetID string) ([]string, error)
}
