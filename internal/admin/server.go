// ABOUTME: Admin HTTP API for operators: users, deliveries, profiles and queue state
// ABOUTME: chi router with JWT-protected /api routes plus /healthz and /metrics

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/fixie-bridge/internal/auth"
	"github.com/2389/fixie-bridge/internal/profile"
	"github.com/2389/fixie-bridge/internal/store"
)

// Deprovisioner removes a user together with their remote agent.
type Deprovisioner interface {
	Deprovision(ctx context.Context, userID string) error
}

// ProfileReloader re-reads the profile catalog.
type ProfileReloader interface {
	Reload(ctx context.Context) (*profile.Catalog, error)
}

// QueueStats reports per-user queue depths.
type QueueStats interface {
	Snapshot() map[string]int
}

// MaintenanceGate reports whether the agent service is unreachable.
type MaintenanceGate interface {
	InMaintenance() bool
}

// Deps wires the admin API to the running bridge.
type Deps struct {
	Store       store.Store
	Accounts    Deprovisioner
	Profiles    ProfileReloader
	Queue       QueueStats
	Maintenance MaintenanceGate     // optional
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Verifier    auth.TokenVerifier
	Logger      *slog.Logger
}

// Server serves the admin API.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates an admin server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, logger: deps.Logger.With("component", "admin")}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s.deps.Verifier))

		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Delete("/users/{id}", s.handleDeleteUser)
		r.Get("/users/{id}/deliveries", s.handleListDeliveries)
		r.Post("/profiles/reload", s.handleReloadProfiles)
		r.Get("/queue", s.handleQueue)
	})

	return r
}

type userView struct {
	ID          string    `json:"id"`
	Pseudonym   string    `json:"pseudonym"`
	AgentID     string    `json:"agent_id,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	Provisioned bool      `json:"provisioned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toUserView(u *store.User) userView {
	return userView{
		ID:          u.ID,
		Pseudonym:   u.Pseudonym,
		AgentID:     u.AgentID,
		ChatID:      u.ChatID,
		Provisioned: u.Provisioned(),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type deliveryView struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Request   string    `json:"request"`
	Reply     string    `json:"reply,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	maintenance := s.deps.Maintenance != nil && s.deps.Maintenance.InMaintenance()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"maintenance": maintenance,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	users, err := s.deps.Store.ListUsers(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "listing users", err)
		return
	}

	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	u, err := s.deps.Store.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "getting user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	err := s.deps.Accounts.Deprovision(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "deleting user", err)
		return
	}

	s.logger.Info("user deleted", "user", id, "by", auth.SubjectFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	deliveries, err := s.deps.Store.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		s.internalError(w, r, "listing deliveries", err)
		return
	}

	out := make([]deliveryView, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, deliveryView{
			ID:        d.ID,
			AgentID:   d.AgentID,
			Request:   d.Request,
			Reply:     d.Reply,
			Status:    string(d.Status),
			Error:     d.Error,
			CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}

func (s *Server) handleReloadProfiles(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.deps.Profiles.Reload(r.Context())
	if err != nil {
		s.logger.Error("profile reload failed", "error", err, "by", auth.SubjectFromContext(r.Context()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Info("profiles reloaded", "profiles", catalog.Names(), "by", auth.SubjectFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": catalog.Names(),
		"default":  catalog.DefaultName(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	depths := s.deps.Queue.Snapshot()
	total := 0
	for _, n := range depths {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"users": depths,
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", "error", err, "request_id", chimw.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// userIDParam returns the unescaped {id} path segment.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return id, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
