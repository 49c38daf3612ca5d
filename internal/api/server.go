package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/dispatcher"
	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/service"
)

const requestTimeout = 60 * time.Second

// Operations is the monitor surface the handlers call.
type Operations interface {
	CreateMonitor(ctx context.Context, in service.CreateMonitorInput) (monitor.Task, error)
	TriggerCheck(ctx context.Context, id string) error
	PauseMonitor(ctx context.Context, id string) (monitor.Task, error)
	ResumeMonitor(ctx context.Context, id string) (monitor.Task, error)
	ValidateFeedURL(ctx context.Context, rawURL string) checker.ValidationResult
	TestChannel(ctx context.Context, channelID string) (service.ChannelTestResult, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Options tune the server.
type Options struct {
	// APIKey, when set, is required on every /v1 request via X-API-Key.
	APIKey string
	Ready  ReadyFunc
}

// Server wires HTTP handlers to the monitor operations.
type Server struct {
	router chi.Router
	ops    Operations
	ready  ReadyFunc
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ops Operations, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ops:    ops,
		ready:  opts.Ready,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/monitors", s.createMonitor)
		r.Route("/monitors/{id}", func(r chi.Router) {
			r.Post("/check", s.triggerCheck)
			r.Post("/pause", s.pauseMonitor)
			r.Post("/resume", s.resumeMonitor)
		})
		r.Post("/validate", s.validateFeed)
		r.Post("/channels/{id}/test", s.testChannel)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createMonitor(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMonitorInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.ops.CreateMonitor(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) triggerCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ops.TriggerCheck(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"monitor_id": id, "status": "queued"})
}

func (s *Server) pauseMonitor(w http.ResponseWriter, r *http.Request) {
	task, err := s.ops.PauseMonitor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) resumeMonitor(w http.ResponseWriter, r *http.Request) {
	task, err := s.ops.ResumeMonitor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

type validateRequest struct {
	URL string `json:"url"`
}

func (s *Server) validateFeed(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.ops.ValidateFeedURL(r.Context(), req.URL))
}

func (s *Server) testChannel(w http.ResponseWriter, r *http.Request) {
	res, err := s.ops.TestChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// writeFailure maps classified errors onto HTTP statuses. Unclassified
// errors are logged and reported without detail.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrInFlight):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, monitor.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch monitor.KindOf(err) {
	case monitor.KindConfiguration:
		s.writeError(w, http.StatusBadRequest, err.Error())
	case monitor.KindConflict:
		s.writeError(w, http.StatusConflict, err.Error())
	case monitor.KindForbidden:
		s.writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
