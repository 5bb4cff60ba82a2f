// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the HTTP surface: webhook admission from the ripper plus
// a small read/operate control plane over the job store.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/ripflow/internal/config"
	"github.com/ManuGH/ripflow/internal/store"
	"github.com/ManuGH/ripflow/internal/worker"
)

// Notifier is the worker surface the API needs: wake on admission, phase
// for /health.
type Notifier interface {
	Notify()
	State() worker.State
}

// Server holds the handler dependencies.
type Server struct {
	store  *store.Store
	cfg    *config.Config
	worker Notifier
	keys   keyring
}

// New builds the server. Key parsing happens once here.
func New(st *store.Store, cfg *config.Config, w Notifier) *Server {
	return &Server{
		store:  st,
		cfg:    cfg,
		worker: w,
		keys:   parseKeys(cfg.APIKeys),
	}
}

// Router assembles the chi middleware stack and routes. Order matters:
// recoverer outermost, correlation before logging, rate limits innermost.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The ripper fires one webhook per disc; 10/min absorbs retries
	// without letting a misconfigured notifier flood admission.
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/webhook/arm", s.handleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(roleReadonly))
			r.Get("/jobs", s.handleListJobs)
			r.Get("/stats", s.handleStats)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(roleAdmin))
			r.Post("/jobs/{id}/retry", s.handleRetry)
			r.Delete("/jobs/{id}", s.handleDelete)
		})
	})
	return r
}
