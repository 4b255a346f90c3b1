package adapter

import (
	"context"

	"finetune-orchestrator/internal/domain/model"
)

// ModelRegistryAdapter fronts the model hub: authentication, identifier
// resolution and the advisory compatibility probe.
type ModelRegistryAdapter interface {
	// Login authenticates the registry CLI with a bearer token.
	Login(ctx context.Context, token string) (*model.ProcessResult, error)

	// ResolveWorkingModel maps a logical model id to a concrete, runnable
	// one: the requested id if it validates, else a known-compatible
	// fallback. Returns domain.ErrNoUsableModel when neither validates.
	ResolveWorkingModel(ctx context.Context, requested string) (string, error)

	// TestCompatibility flags model configurations known to break the
	// current trainer version. It fails open: if the metadata cannot be
	// fetched the model is assumed compatible.
	TestCompatibility(ctx context.Context, modelID string) bool
}
