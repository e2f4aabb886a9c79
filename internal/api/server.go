// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP boundary: upload, progress polling, artifact
// download, cancellation and the administrative sweep. Handlers only read
// job state from the registry and never block on job completion.
package api

import (
	"context"
	"net/http"

	"github.com/ManuGH/segsplit/internal/api/middleware"
	"github.com/ManuGH/segsplit/internal/config"
	"github.com/ManuGH/segsplit/internal/health"
	"github.com/ManuGH/segsplit/internal/janitor"
	"github.com/ManuGH/segsplit/internal/jobs"
	"github.com/ManuGH/segsplit/internal/orchestrator"
	"github.com/ManuGH/segsplit/internal/platform/paths"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// JobService starts and aborts jobs.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.Request) (jobs.Job, error)
	Cancel(id string) error
}

// Storage is the janitor surface used by handlers.
type Storage interface {
	SweepOnce(ctx context.Context) (janitor.Report, error)
	Remove(reason string, paths ...string) int64
}

// Deps holds the collaborators of the server.
type Deps struct {
	Config   config.AppConfig
	Registry *jobs.Registry
	Jobs     JobService
	Storage  Storage
	// Health serves the probes. A manager without checkers is used when nil.
	Health   *health.Manager
	Logger   zerolog.Logger
}

// Server routes HTTP requests to handlers.
type Server struct {
	cfg      config.AppConfig
	registry *jobs.Registry
	jobs     JobService
	storage  Storage
	health   *health.Manager
	layout   paths.Layout
	logger   zerolog.Logger
	router   chi.Router
}

// New builds the server and its routes.
func New(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		registry: d.Registry,
		jobs:     d.Jobs,
		storage:  d.Storage,
		health:   d.Health,
		layout:   paths.Layout{Root: d.Config.TempDir},
		logger:   d.Logger,
	}
	if s.health == nil {
		s.health = health.NewManager(d.Config.Version, d.Logger)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	tracing := ""
	if s.cfg.Telemetry.Enabled {
		tracing = "segsplit"
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         s.cfg.Metrics.Enabled,
		TracingService:        tracing,
		EnableLogging:         true,
		EnableRateLimit:       s.cfg.RateLimit.Enabled,
		RateLimitRPS:          s.cfg.RateLimit.RPS,
		RateLimitBurst:        s.cfg.RateLimit.Burst,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Addr == "" {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/split-video", s.handleSplit)
		r.Get("/progress", s.handleProgress)
		r.Get("/whoami", s.handleWhoami)

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", withPathID(s.handleJob))
			r.Delete("/", withPathID(s.handleCancel))
			r.Get("/segments", withPathID(s.handleListSegments))
			r.Get("/segments/{name}", withPathID(s.handleSegment))
			r.Get("/download", withPathID(s.handleDownload))
		})

		// Query string forms used by the first browser client.
		r.Get("/list-segments", withQueryID(s.handleListSegments))
		r.Get("/segment", withQueryID(s.handleSegment))
		r.Get("/download", withQueryID(s.handleDownload))

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/admin/cleanup", s.handleCleanup)
			r.Post("/cleanup", s.handleCleanup)
		})
	})
	return r
}

type idHandler func(w http.ResponseWriter, r *http.Request, id string)

func withPathID(h idHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r, chi.URLParam(r, "id"))
	}
}

func withQueryID(h idHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("jobId")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing jobId"})
			return
		}
		h(w, r, id)
	}
}
