// Package intake orchestrates one submission end to end: fetch template,
// validate answers, persist the submission, run the compute engine, evaluate
// rule sets, persist every derived artifact, and emit audit. It also
// assembles the read-side result envelope.
package intake

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"studykit/internal/audit"
	"studykit/internal/compute"
	"studykit/internal/expr"
	"studykit/internal/store"
	"studykit/internal/types"
	"studykit/internal/validate"
)

// Service runs the intake pipeline.
type Service struct {
	store  *store.Store
	audit  *audit.Emitter
	logger *zap.Logger
	clock  func() time.Time
}

// New builds the service. A nil logger is replaced with a nop logger.
func New(s *store.Store, emitter *audit.Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, audit: emitter, logger: logger, clock: time.Now}
}

// SubmitRequest is the intake-submit payload.
type SubmitRequest struct {
	FormTemplateID int64          `json:"form_template_id"`
	Answers        map[string]any `json:"answers"`
	Metadata       map[string]any `json:"metadata"`
}

// Submit runs the full pipeline for one submission. Nothing is written when
// validation fails; a compute cycle aborts before any derived artifact is
// stored (the submission row itself may remain, readers tolerate that).
func (s *Service) Submit(ctx context.Context, studyID, participantID string, req SubmitRequest) (*types.IntakeEnvelope, error) {
	template, err := s.store.GetFormTemplate(ctx, studyID, req.FormTemplateID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, &types.TemplateNotFoundError{StudyID: studyID, FormTemplateID: req.FormTemplateID}
	}

	fields, err := s.store.ListFormFields(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	if ok, issues := validate.Answers(fields, req.Answers); !ok {
		return nil, &types.ValidationError{Issues: issues}
	}

	submittedAt := s.clock().UTC()
	sub := &types.FormSubmission{
		StudyID:        studyID,
		ParticipantID:  participantID,
		FormTemplateID: template.ID,
		Answers:        req.Answers,
		SubmittedAt:    submittedAt,
	}
	if err := s.store.InsertFormSubmission(ctx, sub); err != nil {
		return nil, err
	}

	defs, err := s.store.ListPublishedComputeDefinitions(ctx, studyID)
	if err != nil {
		return nil, err
	}
	evalCtx := &expr.Context{
		Answers:  req.Answers,
		Computed: make(map[string]any),
		Metadata: buildMetadata(req.Metadata, studyID, participantID, template.ID, sub.ID, submittedAt),
	}

	computeDefs := make([]compute.Definition, len(defs))
	for i, d := range defs {
		computeDefs[i] = compute.Definition{Key: d.Key, Source: d.Definition}
	}
	computed, keys, err := compute.NewResolver(evalCtx, computeDefs).ResolveAll()
	if err != nil {
		return nil, err
	}

	results := &store.IntakeResults{}
	for _, key := range keys {
		results.Computed = append(results.Computed, &types.ComputedValue{
			SubmissionID: sub.ID,
			Key:          key,
			Value:        computed[key],
			ComputedAt:   submittedAt,
		})
	}

	rules, err := s.store.ListPublishedRuleSets(ctx, studyID)
	if err != nil {
		return nil, err
	}
	var planEntries []types.PlanEntry
	for _, rule := range rules {
		resolved := resolveRulePayload(rule)
		matched := expr.Evaluate(resolved.predicate, evalCtx)

		detail := map[string]any{
			"rule_set_id": rule.ID,
			"rule_type":   rule.RuleType,
			"name":        rule.Name,
			"matched":     matched,
		}
		if matched && resolved.assignment != nil {
			detail["assignment"] = map[string]any{
				"key":   resolved.assignment.key,
				"value": resolved.assignment.value,
			}
			results.Assignments = append(results.Assignments, &types.ParticipantAssignment{
				ParticipantID: participantID,
				StudyID:       studyID,
				GroupKey:      resolved.assignment.key,
				GroupValue:    resolved.assignment.value,
				AssignedAt:    submittedAt,
			})
		}
		if matched && rule.RuleType == types.RuleScheduling && resolved.plan != nil {
			detail["plan"] = resolved.plan
			planEntries = append(planEntries, types.PlanEntry{
				RuleSetID: rule.ID,
				Name:      rule.Name,
				Plan:      resolved.plan,
			})
		}
		results.Evaluations = append(results.Evaluations, &types.RuleEvaluation{
			SubmissionID: sub.ID,
			RuleSetID:    rule.ID,
			Result:       matched,
			Detail:       detail,
			EvaluatedAt:  submittedAt,
		})
	}

	var planEnvelope *types.PlanEnvelope
	if len(planEntries) > 0 {
		planEnvelope = &types.PlanEnvelope{Plans: planEntries}
		results.Plan = &types.SchedulePlan{
			ParticipantID: participantID,
			StudyID:       studyID,
			Plan:          planEnvelope,
			CreatedAt:     submittedAt,
		}
	}

	if err := s.store.SaveIntakeResults(ctx, results); err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, audit.Event{
		StudyID:       studyID,
		ParticipantID: participantID,
		Action:        audit.ActionIntakeSubmitted,
		EntityType:    "form_submission",
		EntityID:      sub.ID,
		Detail: map[string]any{
			"form_template_id": template.ID,
			"computed_keys":    keys,
			"rule_count":       len(rules),
		},
	})

	s.logger.Info("intake submitted",
		zap.String("study_id", studyID),
		zap.String("participant_id", participantID),
		zap.Int64("submission_id", sub.ID),
		zap.Int("computed", len(keys)),
		zap.Int("rules", len(rules)))

	envelope := &types.IntakeEnvelope{
		Submission:      sub,
		Answers:         req.Answers,
		Computed:        computed,
		RuleEvaluations: deref(results.Evaluations),
		Assignments:     deref(results.Assignments),
		SchedulePlan:    planEnvelope,
	}
	return envelope, nil
}

// Result projects the latest submission for a participant into the same
// envelope shape Submit returns.
func (s *Service) Result(ctx context.Context, studyID, participantID string) (*types.IntakeEnvelope, error) {
	sub, err := s.store.LatestSubmission(ctx, studyID, participantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, &types.NotFoundError{What: "submission"}
	}

	values, err := s.store.ListComputedValues(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	computed := make(map[string]any, len(values))
	for _, cv := range values {
		computed[cv.Key] = cv.Value
	}

	evals, err := s.store.ListRuleEvaluations(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.ListAssignments(ctx, studyID, participantID)
	if err != nil {
		return nil, err
	}

	var planEnvelope *types.PlanEnvelope
	plan, err := s.store.LatestSchedulePlan(ctx, studyID, participantID)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		planEnvelope = decodePlanEnvelope(plan.Plan)
	}

	return &types.IntakeEnvelope{
		Submission:      sub,
		Answers:         sub.Answers,
		Computed:        computed,
		RuleEvaluations: evals,
		Assignments:     assignments,
		SchedulePlan:    planEnvelope,
	}, nil
}

// buildMetadata merges caller metadata with the reserved intake keys. The
// reserved keys win on collision.
func buildMetadata(extra map[string]any, studyID, participantID string, templateID, submissionID int64, submittedAt time.Time) map[string]any {
	meta := make(map[string]any, len(extra)+5)
	for k, v := range extra {
		meta[k] = v
	}
	meta["study_id"] = studyID
	meta["participant_id"] = participantID
	meta["form_template_id"] = templateID
	meta["submission_id"] = submissionID
	meta["submitted_at"] = submittedAt.Format(time.RFC3339Nano)
	return meta
}

// decodePlanEnvelope rebuilds the typed plan envelope from the stored JSON
// shape.
func decodePlanEnvelope(v any) *types.PlanEnvelope {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var env types.PlanEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil
	}
	return &env
}

func deref[T any](in []*T) []T {
	out := make([]T, len(in))
	for i, p := range in {
		if p != nil {
			out[i] = *p
		}
	}
	return out
}
