package ollama

import (
	"strings"
	"testing"

	portadapter "finetune-orchestrator/internal/domain/ports/adapter"
)

func TestRenderAdapterModelfile(t *testing.T) {
	t.Parallel()

	got := renderAdapterModelfile(portadapter.PackageSpec{
		BaseModel:  "llama3.2",
		AdapterDir: "/runs/42/adapters",
	})
	want := "FROM llama3.2\nADAPTER /runs/42/adapters\n"
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestRenderAdapterModelfile_WithSystemPrompt(t *testing.T) {
	t.Parallel()

	got := renderAdapterModelfile(portadapter.PackageSpec{
		BaseModel:    "llama3.2",
		AdapterDir:   "/runs/42/adapters",
		SystemPrompt: "You answer in French.",
	})
	if !strings.Contains(got, `SYSTEM "You answer in French."`) {
		t.Fatalf("system prompt directive missing: %q", got)
	}
}

func TestRenderSystemPromptModelfile(t *testing.T) {
	t.Parallel()

	got := renderSystemPromptModelfile(portadapter.PackageSpec{
		ModelName: "support-bot",
		BaseModel: "llama3.2",
	})
	if strings.Contains(got, "ADAPTER") {
		t.Fatalf("fallback Modelfile must not reference the adapter: %q", got)
	}
	if !strings.HasPrefix(got, "FROM llama3.2\n") {
		t.Fatalf("fallback must build on the base model: %q", got)
	}
	if !strings.Contains(got, "SYSTEM ") {
		t.Fatalf("fallback must carry a system prompt: %q", got)
	}
	if !strings.Contains(got, "PARAMETER temperature 0.7") {
		t.Fatalf("fallback must pin sampling parameters: %q", got)
	}
}

func TestStrategies_AdapterFirst(t *testing.T) {
	t.Parallel()

	sts := strategies()
	if len(sts) != 2 {
		t.Fatalf("expected two strategies, got %d", len(sts))
	}
	if sts[0].name != "adapter" || sts[1].name != "system_prompt" {
		t.Fatalf("unexpected strategy order: %s, %s", sts[0].name, sts[1].name)
	}
}
