// Package server exposes the intake engine over HTTP/JSON. The admin
// endpoints are thin insert wrappers; the intake endpoints drive the
// pipeline. All bodies are application/json in both directions.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"studykit/internal/audit"
	"studykit/internal/intake"
	"studykit/internal/store"
)

// Server wires the HTTP surface to the store and the intake service.
type Server struct {
	store  *store.Store
	intake *intake.Service
	audit  *audit.Emitter
	logger *zap.Logger
	clock  func() time.Time
}

// New builds the server. A nil logger is replaced with a nop logger.
func New(s *store.Store, svc *intake.Service, emitter *audit.Emitter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: s, intake: svc, audit: emitter, logger: logger, clock: time.Now}
}

// Handler returns the routed handler with request-id and logging middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/studies/{study}/forms", s.handleCreateTemplate)
	mux.HandleFunc("POST /api/studies/{study}/forms/{form_id}/fields", s.handleCreateField)
	mux.HandleFunc("POST /api/studies/{study}/forms/{form_id}/logic", s.handleCreateLogic)
	mux.HandleFunc("POST /api/studies/{study}/compute-definitions", s.handleCreateComputeDefinition)
	mux.HandleFunc("POST /api/studies/{study}/rule-sets", s.handleCreateRuleSet)

	mux.HandleFunc("POST /api/studies/{study}/participants/{pid}/intake-submit", s.handleIntakeSubmit)
	mux.HandleFunc("GET /api/studies/{study}/participants/{pid}/intake-result", s.handleIntakeResult)

	return s.withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIntakeSubmit(w http.ResponseWriter, r *http.Request) {
	studyID := r.PathValue("study")
	participantID := r.PathValue("pid")

	var req intake.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FormTemplateID == 0 {
		writePayloadError(w, "form_template_id is required")
		return
	}
	if req.Answers == nil {
		writePayloadError(w, "answers is required")
		return
	}

	envelope, err := s.intake.Submit(r.Context(), studyID, participantID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

func (s *Server) handleIntakeResult(w http.ResponseWriter, r *http.Request) {
	envelope, err := s.intake.Result(r.Context(), r.PathValue("study"), r.PathValue("pid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}
