package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/api/handler"
	mw "github.com/edvin/jobrunner/internal/api/middleware"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/registry"
)

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck func(ctx context.Context) error

// Deps carries everything the server wires into its handlers.
type Deps struct {
	Logger      zerolog.Logger
	Pool        *pgxpool.Pool
	Services    *core.Services
	Registry    *registry.Registry
	Dispatcher  handler.Dispatcher
	Files       handler.FileSaver
	ReadyChecks map[string]ReadyCheck
}

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	pool        *pgxpool.Pool
	readyChecks map[string]ReadyCheck
}

func NewServer(deps Deps) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      deps.Logger,
		pool:        deps.Pool,
		readyChecks: deps.ReadyChecks,
	}

	s.setupMiddleware()
	s.setupRoutes(deps)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes(deps Deps) {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))

		// Jobs
		job := handler.NewJob(deps.Registry, deps.Services.JobDefinition, deps.Services.Queue,
			deps.Services.ScheduledRun, deps.Dispatcher, deps.Files)
		r.Get("/jobs", job.List)
		r.Get("/jobs/{id}", job.Get)
		r.Put("/jobs/{id}", job.Update)
		r.Post("/jobs/{id}/enable", job.Enable)
		r.Post("/jobs/{id}/disable", job.Disable)
		r.Put("/jobs/{id}/default-queue", job.SetDefaultQueue)
		r.Get("/jobs/{id}/queues", job.ListQueues)
		r.Post("/jobs/{id}/queues", job.AssignQueue)
		r.Delete("/jobs/{id}/queues/{queueID}", job.UnassignQueue)
		r.Post("/jobs/{id}/run", job.Run)

		// Queues
		queue := handler.NewQueue(deps.Services.Queue)
		r.Get("/queues", queue.List)
		r.Post("/queues", queue.Create)
		r.Get("/queues/{id}", queue.Get)

		// Scheduled runs
		scheduledRun := handler.NewScheduledRun(deps.Services.ScheduledRun)
		r.Get("/scheduled-runs", scheduledRun.List)
		r.Get("/scheduled-runs/{id}", scheduledRun.Get)
		r.Post("/scheduled-runs/{id}/enable", scheduledRun.Enable)
		r.Post("/scheduled-runs/{id}/disable", scheduledRun.Disable)
		r.Delete("/scheduled-runs/{id}", scheduledRun.Delete)

		// Approvals
		approval := handler.NewApproval(deps.Services.Approval)
		r.Get("/approvals", approval.List)
		r.Get("/scheduled-runs/{id}/approval-stages", approval.ListByRun)
		r.Post("/approval-stages/{id}/approve", approval.Approve)
		r.Post("/approval-stages/{id}/deny", approval.Deny)
		r.Post("/approval-stages/{id}/comment", approval.Comment)

		// Results and logs
		jobResult := handler.NewJobResult(deps.Services.JobResult, deps.Services.JobLog)
		r.Get("/jobs/{id}/results", jobResult.ListByJob)
		r.Get("/job-results/{id}", jobResult.Get)
		r.Get("/job-results/{id}/logs", jobResult.Logs)

		// API keys
		apiKey := handler.NewAPIKey(deps.Services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Post("/api-keys", apiKey.Create)
		r.Get("/api-keys/{id}", apiKey.Get)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
