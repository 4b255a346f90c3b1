package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/infra/logging"
)

type launchRequest struct {
	ConfigID string `json:"config_id"`
}

type launchResponse struct {
	TaskID   string `json:"task_id"`
	ConfigID string `json:"config_id"`
	Status   string `json:"status"`
}

// taskStatusResponse is the poll payload. Progress is a 0-100 percentage.
type taskStatusResponse struct {
	TaskID      string         `json:"task_id"`
	ConfigID    string         `json:"config_id"`
	Status      string         `json:"status"`
	CurrentStep string         `json:"current_step"`
	Progress    float64        `json:"progress"`
	Error       string         `json:"error,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toStatusResponse(st *model.TaskStatus) taskStatusResponse {
	return taskStatusResponse{
		TaskID:      st.TaskID,
		ConfigID:    st.ConfigID,
		Status:      string(st.Status),
		CurrentStep: st.CurrentStep,
		Progress:    st.Progress,
		Error:       st.Error,
		Metrics:     st.Metrics,
		Result:      st.Result,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}

// launchHandler starts a pipeline run and returns 202 immediately. The run
// itself happens on the worker pool; the caller polls the task endpoint.
func launchHandler(pipeline PipelineService, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req launchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.ConfigID == "" {
			http.Error(w, "config_id is required", http.StatusBadRequest)
			return
		}

		taskID, err := pipeline.Launch(ctx, req.ConfigID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrRunAlreadyActive):
				http.Error(w, "A run is already active for this configuration", http.StatusConflict)
			case errors.Is(err, domain.ErrWorkerQueueFull):
				http.Error(w, "Launch queue is full, retry later", http.StatusServiceUnavailable)
			default:
				log.Error().Err(err).
					Str("config_id", req.ConfigID).
					Str("trace_id", logging.TraceIDFromContext(ctx)).
					Msg("launch failed")
				http.Error(w, "Failed to launch pipeline", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(launchResponse{
			TaskID:   taskID,
			ConfigID: req.ConfigID,
			Status:   string(model.StagePreparing),
		})
	}
}

func taskStatusHandler(pipeline PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		configID := chi.URLParam(r, "configID")
		st, err := pipeline.GetStatus(ctx, configID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "No run found for this configuration", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to read task status", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(toStatusResponse(st))
	}
}

// healthHandler probes each dependency and reports 503 when any is down,
// so orchestration can take the instance out of rotation.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				components[name] = err.Error()
				healthy = false
				continue
			}
			components[name] = "ok"
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components,omitempty"`
		}{Status: status, Components: components})
	}
}
