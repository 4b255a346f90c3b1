// Package hf fronts the Hugging Face hub: CLI login, model id resolution and
// the advisory compatibility probe.
package hf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	portadapter "finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/infra/logging"
	"finetune-orchestrator/internal/infra/proc"
)

const defaultHubURL = "https://huggingface.co"

// exactOverrides maps identifiers that are known not to work with the
// current trainer to tested replacements. Checked before the prefix rules.
var exactOverrides = map[string]string{
	"meta-llama/Llama-3.2-1B":   "mlx-community/Llama-3.2-1B-Instruct-4bit",
	"meta-llama/Llama-3.2-3B":   "mlx-community/Llama-3.2-3B-Instruct-4bit",
	"mistralai/Mistral-7B-v0.1": "mlx-community/Mistral-7B-Instruct-v0.2-4bit",
	"google/gemma-2-2b":         "mlx-community/gemma-2-2b-it-4bit",
}

// prefixRules rewrites gated publisher namespaces to their open conversions.
var prefixRules = []struct{ from, to string }{
	{"meta-llama/", "mlx-community/"},
	{"mistralai/", "mlx-community/"},
	{"google/", "mlx-community/"},
}

// incompatibleModelTypes lists architectures the current trainer version
// cannot load.
var incompatibleModelTypes = map[string]bool{
	"mamba":           true,
	"recurrent_gemma": true,
}

type Registry struct {
	runner  *proc.Runner
	httpc   *http.Client
	hubURL  string
	timeout time.Duration
	log     *zerolog.Logger
}

var _ portadapter.ModelRegistryAdapter = (*Registry)(nil)

func NewRegistry(runner *proc.Runner, log *zerolog.Logger) *Registry {
	return &Registry{
		runner:  runner,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		hubURL:  defaultHubURL,
		timeout: 2 * time.Minute,
		log:     log,
	}
}

// WithHubURL points the registry at another hub endpoint. Used by tests.
func (r *Registry) WithHubURL(u string) *Registry {
	r.hubURL = strings.TrimSuffix(u, "/")
	return r
}

// Login authenticates the hub CLI with a bearer token.
func (r *Registry) Login(ctx context.Context, token string) (*model.ProcessResult, error) {
	if token == "" {
		return nil, domain.ErrMissingCredential
	}
	r.log.Debug().Str("token", logging.Redact(token, false)).Msg("hub login")
	return r.runner.Run(ctx, proc.Command{
		Path:    "huggingface-cli",
		Args:    []string{"login", "--token", token},
		Timeout: r.timeout,
	})
}

// ResolveWorkingModel returns the requested id if the hub knows it, else a
// derived fallback if that one validates, else domain.ErrNoUsableModel.
func (r *Registry) ResolveWorkingModel(ctx context.Context, requested string) (string, error) {
	if r.modelExists(ctx, requested) {
		return requested, nil
	}
	fallback := fallbackFor(requested)
	if fallback != "" && fallback != requested && r.modelExists(ctx, fallback) {
		r.log.Info().Str("requested", requested).Str("fallback", fallback).Msg("resolved fallback model")
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrNoUsableModel, requested)
}

// TestCompatibility fetches the model's declared configuration and flags
// combinations known to break the trainer. This is advisory: a metadata
// fetch failure assumes compatible rather than blocking the pipeline on a
// connectivity hiccup.
func (r *Registry) TestCompatibility(ctx context.Context, modelID string) bool {
	url := fmt.Sprintf("%s/%s/resolve/main/config.json", r.hubURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return true
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	var cfg struct {
		ModelType   string `json:"model_type"`
		RopeScaling *struct {
			Type string `json:"type"`
		} `json:"rope_scaling"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return true
	}
	if incompatibleModelTypes[strings.ToLower(cfg.ModelType)] {
		r.log.Warn().Str("model", modelID).Str("model_type", cfg.ModelType).Msg("model architecture flagged incompatible")
		return false
	}
	if cfg.RopeScaling != nil && cfg.RopeScaling.Type == "longrope" {
		r.log.Warn().Str("model", modelID).Msg("longrope scaling flagged incompatible")
		return false
	}
	return true
}

// modelExists probes the hub model API. Probe errors fail open so an
// unrelated connectivity problem cannot block the pipeline.
func (r *Registry) modelExists(ctx context.Context, modelID string) bool {
	url := fmt.Sprintf("%s/api/models/%s", r.hubURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return true
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("model", modelID).Msg("existence probe failed, assuming model exists")
		return true
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func fallbackFor(requested string) string {
	if alt, ok := exactOverrides[requested]; ok {
		return alt
	}
	for _, rule := range prefixRules {
		if strings.HasPrefix(requested, rule.from) {
			return rule.to + strings.TrimPrefix(requested, rule.from)
		}
	}
	return ""
}
