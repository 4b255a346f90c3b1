package mlx

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	portadapter "finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/infra/proc"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	tr := NewTrainer(proc.NewRunner(&l), Options{Timeout: time.Hour}, &l)
	args := tr.buildArgs(portadapter.TrainingSpec{
		ModelID:       "mlx-community/phi-2",
		DataDir:       "/tmp/run42",
		NumIterations: 100,
		StepsPerEval:  10,
		BatchSize:     4,
		LearningRate:  1e-5,
		NumLayers:     16,
	})

	want := []string{
		"--model", "mlx-community/phi-2",
		"--train",
		"--iters", "100",
		"--steps-per-eval", "10",
		"--batch-size", "4",
		"--learning-rate", "1e-05",
		"--num-layers", "16",
		"--test",
		"--data", "/tmp/run42",
		"--adapter-path", "/tmp/run42/adapters",
	}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d: %v", len(want), len(args), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: expected %q got %q", i, want[i], args[i])
		}
	}
}

func TestBuildEnv_Toggles(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	tr := NewTrainer(proc.NewRunner(&l), Options{FastTransfer: true, DisableTelemetry: true}, &l)
	env := tr.buildEnv()
	if env["HF_HUB_ENABLE_HF_TRANSFER"] != "1" {
		t.Fatal("fast transfer toggle not applied")
	}
	if env["HF_HUB_DISABLE_TELEMETRY"] != "1" {
		t.Fatal("telemetry toggle not applied")
	}

	tr = NewTrainer(proc.NewRunner(&l), Options{}, &l)
	if len(tr.buildEnv()) != 0 {
		t.Fatal("no toggles set, env overlay should be empty")
	}
}

func TestAdapterPathDefaultsUnderDataDir(t *testing.T) {
	t.Parallel()

	got := adapterPath(portadapter.TrainingSpec{DataDir: "/data/run"})
	if got != "/data/run/adapters" {
		t.Fatalf("expected adapters under data dir, got %q", got)
	}
	got = adapterPath(portadapter.TrainingSpec{DataDir: "/data/run", AdapterDir: "/elsewhere"})
	if got != "/elsewhere" {
		t.Fatalf("expected explicit adapter dir, got %q", got)
	}
}
