package model

import "time"

// Stage is one named step of the pipeline. Stages are persisted before the
// work of the stage begins, so a poller always sees where a run is.
type Stage string

const (
	StagePreparing       Stage = "PREPARING"
	StageDatasetCreation Stage = "DATASET_CREATION"
	StageDatasetComplete Stage = "DATASET_COMPLETE"
	StageHFLogin         Stage = "HF_LOGIN"
	StageFinetuning      Stage = "FINETUNING"
	StageCreatingModel   Stage = "CREATING_MODEL"
	StageOllamaImport    Stage = "OLLAMA_IMPORT"
	StageCompleted       Stage = "COMPLETED"
	StageFailed          Stage = "FAILED"
)

// Terminal reports whether no further transition can happen from s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// TaskStatus is the mutable record of one pipeline invocation, keyed by task
// id. Only the latest state is kept; there is no history table. A FAILED
// status always carries a non-empty Error.
type TaskStatus struct {
	TaskID      string
	ConfigID    string
	Status      Stage
	CurrentStep string
	Progress    float64
	Error       string
	Metrics     map[string]any
	Result      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskStatusUpdate carries a partial update: nil fields leave the stored
// value untouched, mirroring how the status row accretes information as the
// run advances.
type TaskStatusUpdate struct {
	Status      Stage
	CurrentStep *string
	Progress    *float64
	Error       *string
	Metrics     map[string]any
	Result      map[string]any
}

func StrPtr(s string) *string       { return &s }
func Float64Ptr(f float64) *float64 { return &f }
