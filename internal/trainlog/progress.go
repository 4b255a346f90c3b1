// Package trainlog bridges the unstructured, human-readable output of the
// wrapped training tools to structured progress and verdicts. Everything here
// is best-effort pattern matching: unmatched lines are expected and harmless.
package trainlog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"finetune-orchestrator/internal/domain/model"
)

var (
	reFetching = regexp.MustCompile(`Fetching\s+\d+\s+files?:\s*(\d+)%`)
	reIter     = regexp.MustCompile(`Iter\s+(\d+):`)
)

// completionPhrases end a run at 100%. Matched case-insensitively.
var completionPhrases = []string{
	"training complete",
	"fine-tuning complete",
	"adapters saved",
	"training finished",
	"done",
	"finished training",
}

// ExtractorConfig maps raw tool percentages into the caller's slice of the
// overall pipeline progress.
type ExtractorConfig struct {
	// DownloadBase/DownloadSpan position "Fetching N files: X%" lines,
	// e.g. base 50 span 10 maps them into 50-60% overall.
	DownloadBase float64
	DownloadSpan float64

	// TrainBase/TrainSpan/TotalIters position "Iter K:" lines; the result
	// is capped at 95 so only a completion phrase reaches 100.
	TrainBase  float64
	TrainSpan  float64
	TotalIters int
}

// Extractor converts raw output lines to progress events. It is stateless
// across calls; the rule table is baked in at construction, ordered, first
// match wins.
type Extractor struct {
	rules []func(line string) *model.ProgressEvent
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.TotalIters <= 0 {
		cfg.TotalIters = 1
	}
	return &Extractor{rules: []func(string) *model.ProgressEvent{
		func(line string) *model.ProgressEvent { return matchDownload(line, cfg) },
		func(line string) *model.ProgressEvent { return matchIteration(line, cfg) },
		matchValidation,
		matchSave,
		matchCompletion,
	}}
}

// ParseLine returns the event for the first matching rule, or nil when no
// rule matches.
func (e *Extractor) ParseLine(line string) *model.ProgressEvent {
	for _, rule := range e.rules {
		if ev := rule(line); ev != nil {
			return ev
		}
	}
	return nil
}

func matchDownload(line string, cfg ExtractorConfig) *model.ProgressEvent {
	m := reFetching.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	pct, _ := strconv.Atoi(m[1])
	overall := cfg.DownloadBase + float64(pct)/100*cfg.DownloadSpan
	return &model.ProgressEvent{
		Percent:     model.Float64Ptr(overall),
		Description: fmt.Sprintf("Downloading model files: %d%%", pct),
	}
}

func matchIteration(line string, cfg ExtractorConfig) *model.ProgressEvent {
	m := reIter.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	k, _ := strconv.Atoi(m[1])
	overall := cfg.TrainBase + float64(k)/float64(cfg.TotalIters)*cfg.TrainSpan
	if overall > 95 {
		overall = 95
	}
	return &model.ProgressEvent{
		Percent:     model.Float64Ptr(overall),
		Description: fmt.Sprintf("Training iteration %d/%d", k, cfg.TotalIters),
	}
}

func matchValidation(line string) *model.ProgressEvent {
	if strings.Contains(line, "Validation") || strings.Contains(line, "Val loss") {
		return &model.ProgressEvent{Description: "Running validation..."}
	}
	return nil
}

func matchSave(line string) *model.ProgressEvent {
	if strings.Contains(line, "Saving") || strings.Contains(line, "saved") {
		return &model.ProgressEvent{
			Percent:     model.Float64Ptr(95),
			Description: "Saving model...",
		}
	}
	return nil
}

func matchCompletion(line string) *model.ProgressEvent {
	lower := strings.ToLower(line)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return &model.ProgressEvent{
				Percent:     model.Float64Ptr(100),
				Description: "Fine-tuning completed successfully",
			}
		}
	}
	return nil
}
