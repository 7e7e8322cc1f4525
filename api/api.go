// Package api exposes the queue over HTTP: enqueue and inspection for
// producers, lease and report endpoints for workers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/cron"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/queue"
)

const defaultListLimit = 50

// API wires the HTTP handlers over the queue service.
type API struct {
	queue  *queue.Service
	sched  *cron.Scheduler
	ping   func(ctx context.Context) error
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithScheduler exposes the cron scheduler's entries on the schedule
// introspection route.
func WithScheduler(s *cron.Scheduler) Option {
	return func(a *API) { a.sched = s }
}

// WithHealthCheck sets the function probed by the healthz route,
// typically the store's Ping.
func WithHealthCheck(ping func(ctx context.Context) error) Option {
	return func(a *API) { a.ping = ping }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over the queue service.
func New(q *queue.Service, opts ...Option) *API {
	a := &API{
		queue:  q,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(a.requestLogger)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.enqueueJob)
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/counts", a.jobCounts)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Post("/jobs/{jobID}/success", a.reportSuccess)
		r.Post("/jobs/{jobID}/failure", a.reportFailure)
		r.Post("/lease", a.lease)
		r.Get("/dlq", a.listDLQ)
		r.Get("/stats", a.stats)
		r.Get("/schedules", a.listSchedules)
		r.Get("/healthz", a.healthz)
	})
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondServiceError maps queue errors to HTTP statuses: unknown
// types are a bad request, payload violations are unprocessable, a
// missing job is 404, and a lost lease is a conflict.
func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	var verr *job.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:      "payload validation failed",
			Violations: verr.Violations,
		})
	case errors.Is(err, backlog.ErrUnknownJobType):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, backlog.ErrJobNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backlog.ErrJobNotLeased):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, backlog.ErrJobAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("request failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.ping != nil {
		if err := a.ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) listSchedules(w http.ResponseWriter, _ *http.Request) {
	if a.sched == nil {
		respondJSON(w, http.StatusOK, []cron.EntryInfo{})
		return
	}
	respondJSON(w, http.StatusOK, a.sched.Entries())
}
