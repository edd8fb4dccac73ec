// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/metascrape/internal/dispatcher"
	"github.com/JakeFAU/metascrape/internal/metrics"
	"github.com/JakeFAU/metascrape/internal/scraper"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Server wires HTTP handlers to the dispatcher and the task store.
type Server struct {
	router     chi.Router
	store      scraper.TaskStore
	dispatcher *dispatcher.Dispatcher
	clock      scraper.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store scraper.TaskStore,
	dispatch *dispatcher.Dispatcher,
	clock scraper.Clock,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:      store,
		dispatcher: dispatch,
		clock:      clock,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", s.submitTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{task_id}", s.getTaskWithResults)
		r.Get("/task-status/{task_id}", s.getTaskStatus)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

// submitTask creates a pending task and queues it for execution.
// Malformed input is rejected synchronously before any row exists.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.store.CreateTask(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, scraper.ErrInvalidURL) {
			s.writeError(w, http.StatusBadRequest, scraper.ErrInvalidURL.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	item := scraper.QueueItem{
		TaskID:    task.ID,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue task failed", zap.String("task_id", task.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}
	s.writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) getTaskWithResults(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, results, err := s.store.GetTaskWithResults(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, scraper.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	s.writeJSON(w, http.StatusOK, scraper.TaskResult{Task: task, Results: results})
}

func (s *Server) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, scraper.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            task.ID,
		"status":        task.Status,
		"created_at":    task.CreatedAt,
		"completed_at":  task.CompletedAt,
		"error_message": nullableString(task.ErrorMessage),
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	skip := parseIntParam(r, "skip", 0)
	limit := parseIntParam(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tasks, err := s.store.ListTasks(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFromContext returns the id stamped by requestIDMiddleware,
// or an empty string outside the middleware chain.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
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

type requestIDKey struct{}

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
