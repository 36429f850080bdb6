package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/workspace"
)

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is the GET /v1/status body.
type StatusResponse struct {
	workspace.Progress
}

// RoutinesResponse is the GET /v1/logs body.
type RoutinesResponse struct {
	Routines []string `json:"routines"`
}

// RoutineLogResponse is the GET /v1/logs/{routine} body. Missing metric
// values serialize as JSON null.
type RoutineLogResponse struct {
	Routine string           `json:"routine"`
	Entries []logstore.Entry `json:"entries"`
}

// ErrorResponse is the body for all error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{Progress: s.status()})
}

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	routines, err := s.logs.Routines(r.Context())
	if err != nil {
		s.logger.Error("failed to list routines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list routines")
		return
	}
	if routines == nil {
		routines = []string{}
	}
	s.writeJSON(w, http.StatusOK, RoutinesResponse{Routines: routines})
}

func (s *Server) handleGetRoutine(w http.ResponseWriter, r *http.Request) {
	routine := chi.URLParam(r, "routine")

	entries, err := s.logs.Fetch(r.Context(), routine)
	if err != nil {
		s.logger.Error("failed to fetch routine log", "routine", routine, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fetch routine log")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, "no entries for routine")
		return
	}
	s.writeJSON(w, http.StatusOK, RoutineLogResponse{Routine: routine, Entries: entries})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
