package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"finetune-orchestrator/internal/domain/model"
)

// PipelineService is the slice of the pipeline use case the API needs.
type PipelineService interface {
	Launch(ctx context.Context, configID string) (string, error)
	GetStatus(ctx context.Context, configID string) (*model.TaskStatus, error)
}

// HealthCheck probes one dependency, keyed by name in the health payload.
type HealthCheck func(ctx context.Context) error

type Server struct {
	pipeline PipelineService
	auth     *AuthManager
	timeout  time.Duration
	checks   map[string]HealthCheck
	log      *zerolog.Logger
}

func NewServer(pipeline PipelineService, auth *AuthManager, timeout time.Duration, checks map[string]HealthCheck, logger *zerolog.Logger) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		pipeline: pipeline,
		auth:     auth,
		timeout:  timeout,
		checks:   checks,
		log:      logger,
	}
}

// Router builds the full route tree. Health and metrics stay outside the
// auth guard so probes and scrapers need no token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", healthHandler(s.checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/finetune", func(r chi.Router) {
		r.Use(s.auth.Guard())
		r.Use(Timeout(s.timeout))
		r.Post("/launch", launchHandler(s.pipeline, s.log))
		r.Get("/task/{configID}", taskStatusHandler(s.pipeline))
	})

	return r
}
