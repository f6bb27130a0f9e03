// Package audit provides best-effort audit logging. Events are appended to
// the audit_logs table and mirrored to the structured logger; a failed write
// never fails the operation that emitted it.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"studykit/internal/store"
	"studykit/internal/types"
)

// Actions emitted by the engine.
const (
	ActionIntakeSubmitted          = "intake_submitted"
	ActionFormTemplateCreated      = "form_template_created"
	ActionFormFieldCreated         = "form_field_created"
	ActionFormLogicCreated         = "form_logic_created"
	ActionComputeDefinitionCreated = "compute_definition_created"
	ActionRuleSetCreated           = "rule_set_created"
)

// Event is one audit occurrence.
type Event struct {
	StudyID       string
	ParticipantID string
	Action        string
	EntityType    string
	EntityID      int64
	Detail        map[string]any
}

// Emitter writes audit events.
type Emitter struct {
	store  *store.Store
	logger *zap.Logger
	clock  func() time.Time
}

// New builds an emitter. A nil logger is replaced with a nop logger.
func New(s *store.Store, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{store: s, logger: logger, clock: time.Now}
}

// Emit appends the event. Failures are swallowed after a warning log so that
// audit never couples to the caller's transaction or outcome.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.store == nil {
		return
	}
	rec := &types.AuditLog{
		StudyID:       ev.StudyID,
		ParticipantID: ev.ParticipantID,
		Action:        ev.Action,
		EntityType:    ev.EntityType,
		EntityID:      ev.EntityID,
		Detail:        ev.Detail,
		CreatedAt:     e.clock().UTC(),
	}
	if err := e.store.InsertAuditLog(ctx, rec); err != nil {
		e.logger.Warn("audit write failed",
			zap.String("action", ev.Action),
			zap.String("study_id", ev.StudyID),
			zap.Error(err))
		return
	}
	e.logger.Debug("audit event",
		zap.String("action", ev.Action),
		zap.String("study_id", ev.StudyID),
		zap.String("participant_id", ev.ParticipantID),
		zap.Int64("entity_id", rec.ID))
}
