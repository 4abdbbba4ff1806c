// ABOUTME: HTTP server for the task lifecycle REST endpoints.
// ABOUTME: Maps engine and store errors onto HTTP status codes.

package a2a

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/ratelimit"
	"github.com/quarrydev/quarry/internal/store"
	"github.com/quarrydev/quarry/internal/task"
)

// Config holds configuration for the task server.
type Config struct {
	Engine  *task.Engine
	Store   store.Store
	Limiter ratelimit.Limiter
	Card    *AgentCard
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Server serves the REST and SSE task endpoints. Unlike the tool server
// it performs no token validation: callers identify themselves with the
// user_id in the task body, which keys the budget lookup.
type Server struct {
	engine  *task.Engine
	store   store.Store
	limiter ratelimit.Limiter
	card    *AgentCard
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewServer creates a task server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	card := cfg.Card
	if card == nil {
		card = DefaultAgentCard(cfg.Engine)
	}

	return &Server{
		engine:  cfg.Engine,
		store:   cfg.Store,
		limiter: cfg.Limiter,
		card:    card,
		logger:  logger.With("component", "a2a"),
		metrics: cfg.Metrics,
	}, nil
}

// RegisterRoutes registers all task server endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /agent", s.handleAgentCard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /tasks", s.limited(s.handleCreateTask))
	mux.HandleFunc("GET /tasks", s.limited(s.handleListTasks))
	mux.HandleFunc("GET /tasks/{id}", s.limited(s.handleGetTask))
	mux.HandleFunc("DELETE /tasks/{id}", s.limited(s.handleCancelTask))
	mux.HandleFunc("GET /tasks/{id}/events", s.limited(s.handleTaskEvents))
}

// limited wraps a handler with the rate limiter. With no token to carry a
// tenant, the limiter is keyed by the caller's address.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(r.Context(), host)
		if err != nil {
			s.logger.Error("rate limiter failure", "error", err, "client", host)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowed {
			s.metrics.CountRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.RetryAfter().Seconds())))
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.card)
}

// createTaskRequest is the POST /tasks body.
type createTaskRequest struct {
	UserID     string         `json:"user_id"`
	AgentID    string         `json:"agent_id"`
	Capability string         `json:"capability"`
	Input      map[string]any `json:"input"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Capability == "" {
		s.writeError(w, http.StatusBadRequest, "capability is required")
		return
	}
	if req.AgentID == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	created, err := s.engine.Create(r.Context(), req.UserID, req.AgentID, req.Capability, req.Input)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	w.Header().Set("Location", "/tasks/"+created.ID)
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntParam(q.Get("limit"), 20)
	offset := parseIntParam(q.Get("offset"), 0)
	if limit < 1 || limit > 100 {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	if offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), q.Get("agent_id"), limit, offset)
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  tasks,
		"count":  len(tasks),
		"offset": offset,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.engine.Cancel(r.Context(), r.PathValue("id"), "cancelled by client")
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cancelled)
}

// writeTaskError maps domain errors onto HTTP status codes.
func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	var inputErr *task.InputError

	switch {
	case errors.As(err, &inputErr):
		s.writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.Is(err, task.ErrUnknownCapability):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrBudgetExceeded):
		s.writeError(w, http.StatusPaymentRequired, "monthly budget exceeded")
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		s.writeError(w, http.StatusConflict, "task already reached a terminal state")
	default:
		s.logger.Error("task operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
