// Package api exposes the operator HTTP interface: health probes, the
// Prometheus endpoint, and read-only views of the mirror and the running
// pass.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/crawl"
	"github.com/oeistools/oeissync/internal/oeis"
)

// PassStatus is the read side of the coordinator used by the status route.
type PassStatus interface {
	Snapshot() crawl.Snapshot
}

// Config controls the HTTP surface.
type Config struct {
	Addr           string
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the store and the pass status source.
type Server struct {
	router   chi.Router
	store    oeis.Store
	status   PassStatus
	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, store oeis.Store, status PassStatus, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		status:   status,
		registry: registry,
		logger:   logger,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(timeout))
	if registry != nil {
		if m, err := newHTTPMetrics(registry); err == nil {
			r.Use(m.middleware)
		} else {
			logger.Warn("http metrics registration failed", zap.Error(err))
		}
	}
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pass", s.getPass)
		r.Get("/failures", s.listFailures)
		r.Route("/records/{record_id}", func(r chi.Router) {
			r.Get("/", s.getRecord)
			r.Get("/attachment", s.getAttachment)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	// One cheap store round trip proves the database answers.
	if _, _, err := s.store.LoadOpenPass(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metricsHandler() http.Handler {
	if s.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not configured", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Server) getPass(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no pass status available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) listFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.store.ListFailures(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list failures failed")
		return
	}
	if failures == nil {
		failures = []oeis.Failure{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, found, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get record failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("record %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	att, found, err := s.store.GetAttachment(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get attachment failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("attachment %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, att)
}

// recordID accepts both "A000045" and plain "45".
func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (oeis.RecordID, bool) {
	raw := chi.URLParam(r, "record_id")
	trimmed := strings.TrimPrefix(strings.ToUpper(raw), "A")
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid record id %q", raw))
		return 0, false
	}
	return oeis.RecordID(n), true
}

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
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
