// Package mlx wraps the mlx_lm.lora fine-tuning CLI.
package mlx

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain/model"
	portadapter "finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/infra/proc"
	"finetune-orchestrator/internal/trainlog"
)

const defaultBinary = "mlx_lm.lora"

// Progress ranges of the FINETUNING stage within the overall pipeline:
// model download occupies 50-60%, training iterations 60-90, saving 95,
// completion 100.
const (
	downloadBase = 50
	downloadSpan = 10
	trainBase    = 60
	trainSpan    = 30
)

type Options struct {
	Binary           string
	Timeout          time.Duration
	FastTransfer     bool // HF_HUB_ENABLE_HF_TRANSFER=1
	DisableTelemetry bool // HF_HUB_DISABLE_TELEMETRY=1
}

type Trainer struct {
	runner *proc.Runner
	opts   Options
	log    *zerolog.Logger
}

var _ portadapter.TrainerAdapter = (*Trainer)(nil)

func NewTrainer(runner *proc.Runner, opts Options, log *zerolog.Logger) *Trainer {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Hour
	}
	return &Trainer{runner: runner, opts: opts, log: log}
}

// FineTune runs the trainer CLI with live output streaming. Progress events
// extracted from either stream are forwarded to onProgress as they arrive.
// The returned result carries the classifier's verdict in IsError.
func (t *Trainer) FineTune(ctx context.Context, spec portadapter.TrainingSpec, onProgress portadapter.ProgressFunc) (*model.ProcessResult, error) {
	extractor := trainlog.NewExtractor(trainlog.ExtractorConfig{
		DownloadBase: downloadBase,
		DownloadSpan: downloadSpan,
		TrainBase:    trainBase,
		TrainSpan:    trainSpan,
		TotalIters:   spec.NumIterations,
	})

	var onLine proc.LineFunc
	if onProgress != nil {
		onLine = func(stream model.OutputStream, line string) {
			if ev := extractor.ParseLine(line); ev != nil {
				onProgress(*ev)
			}
		}
	}

	res, err := t.runner.Run(ctx, proc.Command{
		Path:    t.opts.Binary,
		Args:    t.buildArgs(spec),
		Dir:     spec.DataDir,
		Env:     t.buildEnv(),
		Timeout: t.opts.Timeout,
		OnLine:  onLine,
	})
	if err != nil {
		return nil, err
	}
	res.IsError = trainlog.IsFailure(res.ExitCode, res.Stderr)
	if !res.IsError && res.ExitCode != 0 {
		t.log.Info().Int("exit_code", res.ExitCode).Msg("non-zero trainer exit classified as success")
	}
	return res, nil
}

func (t *Trainer) buildArgs(spec portadapter.TrainingSpec) []string {
	return []string{
		"--model", spec.ModelID,
		"--train",
		"--iters", strconv.Itoa(spec.NumIterations),
		"--steps-per-eval", strconv.Itoa(spec.StepsPerEval),
		"--batch-size", strconv.Itoa(spec.BatchSize),
		"--learning-rate", strconv.FormatFloat(spec.LearningRate, 'g', -1, 64),
		"--num-layers", strconv.Itoa(spec.NumLayers),
		"--test",
		"--data", spec.DataDir,
		"--adapter-path", adapterPath(spec),
	}
}

func (t *Trainer) buildEnv() map[string]string {
	env := map[string]string{}
	if t.opts.FastTransfer {
		env["HF_HUB_ENABLE_HF_TRANSFER"] = "1"
	}
	if t.opts.DisableTelemetry {
		env["HF_HUB_DISABLE_TELEMETRY"] = "1"
	}
	return env
}

func adapterPath(spec portadapter.TrainingSpec) string {
	if spec.AdapterDir != "" {
		return spec.AdapterDir
	}
	return filepath.Join(spec.DataDir, "adapters")
}
