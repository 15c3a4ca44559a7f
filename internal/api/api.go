// Package api exposes the engine's four external operations as a narrow
// JSON-over-HTTP transport, the thinnest layer that can sit in front of
// the engine.
//
// Grounded on the recurring go-chi/chi/v5 dependency across this
// session's retrieved pack (several poller/scheduler/control-plane style
// repositories list it in go.mod); no full chi-based source file was
// retrieved alongside them, so this router follows chi's own documented
// conventions rather than imitating a specific pack file.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chuliyu/smart-wait/internal/engine"
	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// Server wires the engine's operations to HTTP handlers.
type Server struct {
	engine *engine.Engine
	router chi.Router
}

// New builds a Server for eng.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/waits", s.handleRegister)
	r.Get("/waits", s.handleListStatus)
	r.Get("/waits/{id}", s.handleGetStatus)
	r.Patch("/waits/{id}", s.handleUpdate)
	r.Post("/waits/{id}/cancel", s.handleCancel)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type registerRequest struct {
	Target        string  `json:"target"`
	Display       string  `json:"display"`
	Criteria      string  `json:"criteria"`
	TimeoutS      float64 `json:"timeout_s"`
	PollIntervalS float64 `json:"poll_interval_s"`
	TaskID        string  `json:"task_id,omitempty"`
}

type registerResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target, err := waitjob.ParseTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.Register(target, req.Display, req.Criteria, req.TimeoutS, req.PollIntervalS, req.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{ID: string(id)})
}

func (s *Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.engine.Status(nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := waitjob.ID(chi.URLParam(r, "id"))
	snapshots, err := s.engine.Status(&id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots[0])
}

type updateRequest struct {
	Criteria *string  `json:"criteria,omitempty"`
	TimeoutS *float64 `json:"timeout_s,omitempty"`
	Note     string   `json:"note,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := waitjob.ID(chi.URLParam(r, "id"))

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.engine.Update(id, req.Criteria, req.TimeoutS, req.Note); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := waitjob.ID(chi.URLParam(r, "id"))

	var req cancelRequest
	// A cancel with no body is valid — reason is optional.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.engine.Cancel(id, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, waitjob.ErrInvalidArg):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
