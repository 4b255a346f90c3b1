package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrEmptyDataset      = errors.New("dataset has no records")
	ErrInvalidSplit      = errors.New("split percentages must sum to 100")
	ErrMissingCredential = errors.New("model registry credential is not set")
	ErrNoUsableModel     = errors.New("no usable model identifier found")
	ErrRunAlreadyActive  = errors.New("a run is already active for this configuration")
	ErrReadDatabaseRow   = errors.New("failed to read database row")
	ErrWorkerQueueFull   = errors.New("worker queue full")
)
