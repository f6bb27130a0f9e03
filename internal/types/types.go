// Package types provides shared entity and error definitions used across
// studykit packages. This package exists to break import cycles between the
// store, the evaluators and the intake orchestrator. Types in this package
// should be foundational data structures with no complex dependencies.
package types

import (
	"encoding/json"
	"time"
)

// =============================================================================
// STATUS AND TYPE ENUMS
// =============================================================================

// Lifecycle statuses shared by form templates, compute definitions and rule
// sets. Only published rows are consumed by rule evaluation.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Rule set types.
const (
	RuleEligibility     = "eligibility"
	RuleGroupAssignment = "group_assignment"
	RuleScheduling      = "scheduling"
)

// Form field types.
const (
	FieldText        = "text"
	FieldNumber      = "number"
	FieldBoolean     = "boolean"
	FieldDate        = "date"
	FieldTime        = "time"
	FieldSelect      = "select"
	FieldMultiSelect = "multi_select"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	return s == StatusDraft || s == StatusPublished || s == StatusArchived
}

// ValidRuleType reports whether s is a known rule set type.
func ValidRuleType(s string) bool {
	return s == RuleEligibility || s == RuleGroupAssignment || s == RuleScheduling
}

// ValidFieldType reports whether s is a known form field type.
func ValidFieldType(s string) bool {
	switch s {
	case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldTime, FieldSelect, FieldMultiSelect:
		return true
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

// FormTemplate is a versioned collection of ordered fields, scoped to a study.
// Immutable once referenced by a submission.
type FormTemplate struct {
	ID        int64     `json:"id"`
	StudyID   string    `json:"study_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// FormField is one field of a template. Options and Validation are opaque
// structured values interpreted by the answer validator.
type FormField struct {
	ID             int64          `json:"id"`
	FormTemplateID int64          `json:"form_template_id"`
	Key            string         `json:"key"`
	Label          string         `json:"label"`
	Type           string         `json:"type"`
	Required       bool           `json:"required"`
	Options        any            `json:"options,omitempty"`
	Validation     map[string]any `json:"validation,omitempty"`
	OrderIndex     int            `json:"order_index"`
}

// FormLogic is stored conditional-visibility logic. The engine persists it
// but does not interpret it.
type FormLogic struct {
	ID             int64 `json:"id"`
	FormTemplateID int64 `json:"form_template_id"`
	Logic          any   `json:"logic"`
	OrderIndex     int   `json:"order_index"`
}

// ComputeDefinition names a derived value. Definition is a compute expression
// tree, parsed at read time by the compute engine.
type ComputeDefinition struct {
	ID         int64           `json:"id"`
	StudyID    string          `json:"study_id"`
	Key        string          `json:"key"`
	Type       string          `json:"type"`
	Definition json.RawMessage `json:"definition"`
	Version    int             `json:"version"`
	Status     string          `json:"status"`
}

// RuleSet is a named predicate of one of three rule types, with an optional
// action payload embedded in Expression.
type RuleSet struct {
	ID         int64           `json:"id"`
	StudyID    string          `json:"study_id"`
	RuleType   string          `json:"rule_type"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Status     string          `json:"status"`
	Expression json.RawMessage `json:"expression"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FormSubmission is one immutable instance of answers submitted against a
// form template. Append-only.
type FormSubmission struct {
	ID             int64          `json:"id"`
	StudyID        string         `json:"study_id"`
	ParticipantID  string         `json:"participant_id"`
	FormTemplateID int64          `json:"form_template_id"`
	Answers        map[string]any `json:"answers"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// ComputedValue is one derived value produced for a submission.
type ComputedValue struct {
	ID           int64     `json:"id"`
	SubmissionID int64     `json:"submission_id"`
	Key          string    `json:"key"`
	Value        any       `json:"value"`
	ComputedAt   time.Time `json:"computed_at"`
}

// RuleEvaluation records the outcome of one rule set against one submission.
type RuleEvaluation struct {
	ID           int64          `json:"id"`
	SubmissionID int64          `json:"submission_id"`
	RuleSetID    int64          `json:"rule_set_id"`
	Result       bool           `json:"result"`
	Detail       map[string]any `json:"detail"`
	EvaluatedAt  time.Time      `json:"evaluated_at"`
}

// ParticipantAssignment is a (group_key -> group_value) tag placed on a
// participant by a matched group-assignment rule. Append-only; the latest row
// per group_key wins for downstream queries.
type ParticipantAssignment struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participant_id"`
	StudyID       string    `json:"study_id"`
	GroupKey      string    `json:"group_key"`
	GroupValue    string    `json:"group_value"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// SchedulePlan is the collection of plan payloads from matched scheduling
// rules for one submission.
type SchedulePlan struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participant_id"`
	StudyID       string    `json:"study_id"`
	Plan          any       `json:"plan"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditLog is one append-only, best-effort audit record.
type AuditLog struct {
	ID            int64          `json:"id"`
	StudyID       string         `json:"study_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      int64          `json:"entity_id,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// =============================================================================
// INTAKE ENVELOPE
// =============================================================================

// PlanEntry is one matched scheduling rule's payload inside a schedule plan.
type PlanEntry struct {
	RuleSetID int64  `json:"rule_set_id"`
	Name      string `json:"name"`
	Plan      any    `json:"plan"`
}

// PlanEnvelope is the persisted and returned shape of a schedule plan.
type PlanEnvelope struct {
	Plans []PlanEntry `json:"plans"`
}

// IntakeEnvelope is the response shape shared by intake-submit and
// intake-result.
type IntakeEnvelope struct {
	Submission      *FormSubmission         `json:"submission"`
	Answers         map[string]any          `json:"answers"`
	Computed        map[string]any          `json:"computed"`
	RuleEvaluations []RuleEvaluation        `json:"rule_evaluations"`
	Assignments     []ParticipantAssignment `json:"assignments"`
	SchedulePlan    *PlanEnvelope           `json:"schedule_plan"`
}
