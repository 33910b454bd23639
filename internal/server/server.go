// Package server exposes the administrative HTTP API: schedule management,
// cron validation and on-demand connection tests.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/cronplan"
	"github.com/connwatch/connwatch/internal/model"
	"github.com/connwatch/connwatch/internal/secret"
	"github.com/connwatch/connwatch/internal/storage"
)

// ConnectionTester runs a single on-demand probe.
type ConnectionTester interface {
	Test(ctx context.Context, conn *model.Connection) model.RunOutcome
}

// Server is the admin API handler set.
type Server struct {
	logger  *zap.Logger
	store   storage.Store
	planner *cronplan.Planner
	cipher  *secret.Cipher
	tester  ConnectionTester
}

// NewServer creates the admin API server.
func NewServer(store storage.Store, planner *cronplan.Planner, cipher *secret.Cipher, tester ConnectionTester, logger *zap.Logger) *Server {
	return &Server{
		logger:  logger.Named("server"),
		store:   store,
		planner: planner,
		cipher:  cipher,
		tester:  tester,
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedules", s.listSchedules)
		r.Post("/schedules", s.upsertSchedule)
		r.Delete("/schedules/{id}", s.deleteSchedule)
		r.Post("/cron/validate", s.validateCron)
		r.Post("/connections", s.createConnection)
		r.Post("/connections/{id}/test", s.testConnection)
	})

	return r
}

type upsertScheduleRequest struct {
	ApplicationID string `json:"application_id"`
	Expression    string `json:"expression"`
	Enabled       bool   `json:"enabled"`
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.internalError(w, "failed to list schedules", err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedules)
}

func (s *Server) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	var req upsertScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApplicationID == "" {
		s.respondError(w, http.StatusBadRequest, "application_id is required")
		return
	}

	validation := s.planner.Validate(req.Expression)
	if !validation.Valid {
		s.respondError(w, http.StatusBadRequest, validation.Error)
		return
	}

	now := time.Now()
	schedule := &model.Schedule{
		ID:            uuid.New().String(),
		ApplicationID: req.ApplicationID,
		Expression:    req.Expression,
		Enabled:       req.Enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Enabled {
		if next, ok := s.planner.NextRun(req.Expression, now); ok {
			schedule.NextRunAt = &next
		}
	}

	if err := s.store.UpsertSchedule(r.Context(), schedule); err != nil {
		s.internalError(w, "failed to upsert schedule", err)
		return
	}

	s.logger.Info("Schedule saved",
		zap.String("application_id", schedule.ApplicationID),
		zap.String("expression", schedule.Expression),
		zap.Bool("enabled", schedule.Enabled))
	s.respondJSON(w, http.StatusOK, schedule)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeleteSchedule(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateCronRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) validateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, s.planner.Validate(req.Expression))
}

type createConnectionRequest struct {
	ApplicationID    string               `json:"application_id"`
	Name             string               `json:"name"`
	Kind             model.ConnectionKind `json:"kind"`
	Server           string               `json:"server"`
	Port             int                  `json:"port"`
	Database         string               `json:"database"`
	BaseURL          string               `json:"base_url"`
	Username         string               `json:"username"`
	Password         string               `json:"password"`
	ConnectionString string               `json:"connection_string"`
	APIToken         string               `json:"api_token"`
	Options          string               `json:"options"`
	Active           bool                 `json:"active"`
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Kind == "" {
		s.respondError(w, http.StatusBadRequest, "name and kind are required")
		return
	}

	// Credentials are encrypted here, before they ever reach the store.
	password, err := s.cipher.Encrypt(req.Password)
	if err != nil {
		s.internalError(w, "failed to encrypt credentials", err)
		return
	}
	connString, err := s.cipher.Encrypt(req.ConnectionString)
	if err != nil {
		s.internalError(w, "failed to encrypt credentials", err)
		return
	}
	token, err := s.cipher.Encrypt(req.APIToken)
	if err != nil {
		s.internalError(w, "failed to encrypt credentials", err)
		return
	}

	now := time.Now()
	conn := &model.Connection{
		ID:               uuid.New().String(),
		ApplicationID:    req.ApplicationID,
		Name:             req.Name,
		Kind:             req.Kind,
		Server:           req.Server,
		Port:             req.Port,
		Database:         req.Database,
		BaseURL:          req.BaseURL,
		Username:         req.Username,
		Password:         password,
		ConnectionString: connString,
		APIToken:         token,
		Options:          req.Options,
		Active:           req.Active,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateConnection(r.Context(), conn); err != nil {
		s.internalError(w, "failed to create connection", err)
		return
	}

	s.logger.Info("Connection created",
		zap.String("id", conn.ID),
		zap.String("name", conn.Name),
		zap.String("kind", string(conn.Kind)))
	s.respondJSON(w, http.StatusCreated, conn)
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := s.store.GetConnection(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		s.internalError(w, "failed to load connection", err)
		return
	}

	outcome := s.tester.Test(r.Context(), conn)

	status := model.RunStatusSuccess
	if !outcome.Success {
		status = model.RunStatusFailed
	}
	if err := s.store.SaveConnectionTestResult(r.Context(), conn.ID, status, outcome.Message, time.Now()); err != nil {
		s.logger.Error("Failed to persist connection test result",
			zap.String("connection_id", conn.ID),
			zap.Error(err))
	}

	s.respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, message string, err error) {
	s.logger.Error("Request failed", zap.String("message", message), zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, message)
}
