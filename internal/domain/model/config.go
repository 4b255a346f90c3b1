package model

import "time"

// ConfigStatus is the coarse status on the configuration row itself.
// It always reflects the most recent run of that configuration.
type ConfigStatus string

const (
	ConfigStatusPending    ConfigStatus = "Pending"
	ConfigStatusInProgress ConfigStatus = "In Progress"
	ConfigStatusCompleted  ConfigStatus = "Completed"
	ConfigStatusFailed     ConfigStatus = "Failed"
)

// PipelineConfig is the immutable input of a pipeline run. It is loaded
// once at run start and never mutated by the orchestrator.
type PipelineConfig struct {
	ID        string
	BaseModel string
	ModelType string
	DatasetID string

	NumIterations int
	StepsPerEval  int
	LearningRate  float64
	NumLayers     int
	BatchSize     int

	// Split percentages. Train is derived as the remainder so the three
	// always reconcile to 100.
	TrainSplit      int
	ValidationSplit int
	TestSplit       int

	OutputDir      string
	TargetModel    string
	SystemPrompt   string
	Status         ConfigStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SplitsValid reports whether the three split percentages reconcile to 100.
func (c *PipelineConfig) SplitsValid() bool {
	return c.TrainSplit+c.ValidationSplit+c.TestSplit == 100
}
