package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/config"
	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/links"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	"github.com/rradofina/alonchat-ingest/internal/progress"
	"github.com/rradofina/alonchat-ingest/internal/queue"
	"github.com/rradofina/alonchat-ingest/internal/ratelimit"
	"github.com/rradofina/alonchat-ingest/internal/reconcile"
	"github.com/rradofina/alonchat-ingest/internal/urlsafe"
)

// Server wires HTTP handlers to the queue, store, and event hub.
type Server struct {
	router     chi.Router
	queue      queue.Queue
	store      ingest.SourceStore
	hub        *progress.Hub
	reconciler *reconcile.Reconciler
	limiter    ratelimit.Limiter
	checker    *urlsafe.Checker
	verifier   *links.Verifier
	clock      ingest.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q queue.Queue,
	store ingest.SourceStore,
	hub *progress.Hub,
	reconciler *reconcile.Reconciler,
	limiter ratelimit.Limiter,
	checker *urlsafe.Checker,
	verifier *links.Verifier,
	clock ingest.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if verifier == nil {
		verifier = links.NewVerifier(nil, clock, logger.Named("verify"))
	}
	s := &Server{
		queue:      q,
		store:      store,
		hub:        hub,
		reconciler: reconciler,
		limiter:    limiter,
		checker:    checker,
		verifier:   verifier,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	timeout := cfg.ServerTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Route("/v1", func(r chi.Router) {
		// The event stream is long-lived and must not sit behind the
		// request timeout.
		r.Get("/events", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Post("/sources/{source_id}/crawl", s.enqueueCrawl)
			r.Post("/sources/{source_id}/links/verify", s.verifySourceLinks)
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/{job_id}", s.getJob)
				r.Delete("/{job_id}", s.removeJob)
				r.Post("/{job_id}/pause", s.pauseJob)
				r.Post("/{job_id}/resume", s.resumeJob)
			})
			r.Route("/queue", func(r chi.Router) {
				r.Get("/status", s.queueStatus)
				r.Post("/reconcile", s.reconcileOrphans)
				r.Post("/drain", s.drainQueue)
				r.Post("/purge", s.purgeQueue)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Counts(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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
				writeError(w, http.StatusInternalServerError, "internal server error")
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
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
