package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by terminal status (COMPLETED/FAILED).",
		},
		[]string{"status"},
	)

	pipelineRunSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_seconds",
			Help:    "End-to-end pipeline run duration in seconds.",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
		[]string{"status"},
	)

	stageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_transitions_total",
			Help: "Stage transitions persisted, per stage.",
		},
		[]string{"stage"},
	)

	processRunSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_process_run_seconds",
			Help:    "External tool run duration in seconds, per tool.",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"tool", "success"},
	)

	classifierRescuesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outcome_classifier_rescues_total",
			Help: "Runs with a non-zero exit code that the classifier marked successful.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			pipelineRunsTotal, pipelineRunSeconds,
			stageTransitionsTotal, processRunSeconds,
			classifierRescuesTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// -------- Pipeline helpers --------

func ObservePipelineRun(status string, dur time.Duration) {
	pipelineRunsTotal.WithLabelValues(norm(status)).Inc()
	pipelineRunSeconds.WithLabelValues(norm(status)).Observe(dur.Seconds())
}

func IncStageTransition(stage string) {
	stageTransitionsTotal.WithLabelValues(norm(stage)).Inc()
}

// -------- Process helpers --------

func ObserveProcessRun(tool string, dur time.Duration, success bool) {
	processRunSeconds.WithLabelValues(norm(tool), strconv.FormatBool(success)).
		Observe(dur.Seconds())
}

func IncClassifierRescue() {
	classifierRescuesTotal.Inc()
}
