// Package api exposes the HTTP inspection interface for the running
// exporter: health, metrics, active slots, screenshots, and frontier
// counts.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/metrics"
	"github.com/docpress/docpress/internal/scheduler"
)

// Inspector is the scheduler surface the API needs.
type Inspector interface {
	ListActive() []scheduler.ActivePage
	Capture(ctx context.Context, slot int) ([]byte, error)
}

// Config controls the HTTP server behavior.
type Config struct {
	// Timeout bounds each request (default 60s).
	Timeout time.Duration
	// APIKey protects the /v1 routes when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the scheduler and frontier.
type Server struct {
	router    chi.Router
	inspector Inspector
	frontier  docpress.Frontier
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer
// serves /metrics; httpMetrics may be nil to skip request metrics.
func NewServer(
	cfg Config,
	inspector Inspector,
	frontier docpress.Frontier,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTP,
	logger *zap.Logger,
) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		inspector: inspector,
		frontier:  frontier,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.Timeout))
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/active", s.listActive)
		r.Get("/slots/{slot}/screenshot", s.screenshot)
		r.Get("/frontier", s.frontierCounts)
		r.Get("/frontier/blocked", s.frontierBlocked)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listActive(w http.ResponseWriter, _ *http.Request) {
	active := s.inspector.ListActive()
	if active == nil {
		active = []scheduler.ActivePage{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid slot")
		return
	}
	img, err := s.inspector.Capture(r.Context(), slot)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(img); err != nil {
		s.logger.Warn("screenshot write failed", zap.Error(err))
	}
}

func (s *Server) frontierCounts(w http.ResponseWriter, _ *http.Request) {
	counts := map[string]int{}
	for _, status := range []docpress.EntryStatus{
		docpress.StatusPending,
		docpress.StatusProcessing,
		docpress.StatusCompleted,
		docpress.StatusFailed,
		docpress.StatusBlocked,
	} {
		counts[string(status)] = s.frontier.CountByStatus(status)
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) frontierBlocked(w http.ResponseWriter, _ *http.Request) {
	blocked := s.frontier.GetByStatus(docpress.StatusBlocked)
	if blocked == nil {
		blocked = []docpress.Entry{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"blocked": blocked})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
