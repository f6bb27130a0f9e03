package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"studykit/internal/audit"
	"studykit/internal/types"
)

// Admin endpoints are trivial insert wrappers with structural checks; the
// engine interprets the stored blobs at intake time.

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string  `json:"name"`
		Version *int    `json:"version"`
		Status  *string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writePayloadError(w, "name is required")
		return
	}
	t := &types.FormTemplate{
		StudyID:   r.PathValue("study"),
		Name:      req.Name,
		Version:   intOr(req.Version, 1),
		Status:    stringOr(req.Status, types.StatusDraft),
		CreatedAt: s.clock().UTC(),
	}
	if !types.ValidStatus(t.Status) {
		writePayloadError(w, "invalid status")
		return
	}
	if err := s.store.InsertFormTemplate(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		StudyID:    t.StudyID,
		Action:     audit.ActionFormTemplateCreated,
		EntityType: "form_template",
		EntityID:   t.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"form_template": t})
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	formID, ok := pathInt64(w, r, "form_id")
	if !ok {
		return
	}
	var req struct {
		Key        string         `json:"key"`
		Label      string         `json:"label"`
		Type       string         `json:"type"`
		Required   *bool          `json:"required"`
		Options    any            `json:"options"`
		Validation map[string]any `json:"validation"`
		OrderIndex *int           `json:"order_index"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writePayloadError(w, "key is required")
		return
	}
	if !types.ValidFieldType(req.Type) {
		writePayloadError(w, "invalid field type")
		return
	}
	f := &types.FormField{
		FormTemplateID: formID,
		Key:            req.Key,
		Label:          req.Label,
		Type:           req.Type,
		Required:       req.Required != nil && *req.Required,
		Options:        req.Options,
		Validation:     req.Validation,
		OrderIndex:     intOr(req.OrderIndex, 0),
	}
	if err := s.store.InsertFormField(r.Context(), f); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		StudyID:    r.PathValue("study"),
		Action:     audit.ActionFormFieldCreated,
		EntityType: "form_field",
		EntityID:   f.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"form_field": f})
}

func (s *Server) handleCreateLogic(w http.ResponseWriter, r *http.Request) {
	formID, ok := pathInt64(w, r, "form_id")
	if !ok {
		return
	}
	var req struct {
		Logic      any  `json:"logic"`
		OrderIndex *int `json:"order_index"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Logic == nil {
		writePayloadError(w, "logic is required")
		return
	}
	l := &types.FormLogic{
		FormTemplateID: formID,
		Logic:          req.Logic,
		OrderIndex:     intOr(req.OrderIndex, 0),
	}
	if err := s.store.InsertFormLogic(r.Context(), l); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		StudyID:    r.PathValue("study"),
		Action:     audit.ActionFormLogicCreated,
		EntityType: "form_logic",
		EntityID:   l.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"form_logic": l})
}

func (s *Server) handleCreateComputeDefinition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key        string          `json:"key"`
		Type       string          `json:"type"`
		Definition json.RawMessage `json:"definition"`
		Version    *int            `json:"version"`
		Status     *string         `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writePayloadError(w, "key is required")
		return
	}
	if len(req.Definition) == 0 {
		writePayloadError(w, "definition is required")
		return
	}
	d := &types.ComputeDefinition{
		StudyID:    r.PathValue("study"),
		Key:        req.Key,
		Type:       req.Type,
		Definition: req.Definition,
		Version:    intOr(req.Version, 1),
		Status:     stringOr(req.Status, types.StatusDraft),
	}
	if !types.ValidStatus(d.Status) {
		writePayloadError(w, "invalid status")
		return
	}
	if err := s.store.InsertComputeDefinition(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		StudyID:    d.StudyID,
		Action:     audit.ActionComputeDefinitionCreated,
		EntityType: "compute_definition",
		EntityID:   d.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"compute_definition": d})
}

func (s *Server) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleType   string          `json:"rule_type"`
		Name       string          `json:"name"`
		Version    *int            `json:"version"`
		Status     *string         `json:"status"`
		Expression json.RawMessage `json:"expression"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !types.ValidRuleType(req.RuleType) {
		writePayloadError(w, "invalid rule_type")
		return
	}
	if req.Name == "" {
		writePayloadError(w, "name is required")
		return
	}
	if len(req.Expression) == 0 {
		writePayloadError(w, "expression is required")
		return
	}
	rs := &types.RuleSet{
		StudyID:    r.PathValue("study"),
		RuleType:   req.RuleType,
		Name:       req.Name,
		Version:    intOr(req.Version, 1),
		Status:     stringOr(req.Status, types.StatusPublished),
		Expression: req.Expression,
		CreatedAt:  s.clock().UTC(),
	}
	if !types.ValidStatus(rs.Status) {
		writePayloadError(w, "invalid status")
		return
	}
	if err := s.store.InsertRuleSet(r.Context(), rs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Emit(r.Context(), audit.Event{
		StudyID:    rs.StudyID,
		Action:     audit.ActionRuleSetCreated,
		EntityType: "rule_set",
		EntityID:   rs.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"rule_set": rs})
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writePayloadError(w, "invalid "+name)
		return 0, false
	}
	return v, true
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func stringOr(p *string, def string) string {
	if p != nil && *p != "" {
		return *p
	}
	return def
}
