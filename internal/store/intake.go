package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"studykit/internal/types"
)

// InsertFormSubmission stores a submission row and fills its id. This write
// is deliberately separate from SaveIntakeResults: the submission id feeds
// the compute metadata scope before any derived artifact exists.
func (s *Store) InsertFormSubmission(ctx context.Context, sub *types.FormSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers, err := encodeJSON(sub.Answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO form_submissions (study_id, participant_id, form_template_id, answers, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sub.StudyID, sub.ParticipantID, sub.FormTemplateID, answers, encodeTime(sub.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert form submission: %w", err)
	}
	sub.ID, err = res.LastInsertId()
	return err
}

// IntakeResults bundles the derived artifacts of one submission. Ids are
// filled on save.
type IntakeResults struct {
	Computed    []*types.ComputedValue
	Evaluations []*types.RuleEvaluation
	Assignments []*types.ParticipantAssignment
	Plan        *types.SchedulePlan
}

// SaveIntakeResults writes computed values, rule evaluations, assignments and
// the schedule plan in one transaction, preserving slice order.
func (s *Store) SaveIntakeResults(ctx context.Context, r *IntakeResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, cv := range r.Computed {
		value, err := encodeJSON(cv.Value)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO computed_values (submission_id, key, value, computed_at) VALUES (?, ?, ?, ?)`,
			cv.SubmissionID, cv.Key, value, encodeTime(cv.ComputedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert computed value: %w", err)
		}
		if cv.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	for _, ev := range r.Evaluations {
		detail, err := encodeJSON(ev.Detail)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rule_evaluations (submission_id, rule_set_id, result, detail, evaluated_at) VALUES (?, ?, ?, ?, ?)`,
			ev.SubmissionID, ev.RuleSetID, ev.Result, detail, encodeTime(ev.EvaluatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule evaluation: %w", err)
		}
		if ev.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	for _, a := range r.Assignments {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO participant_assignments (participant_id, study_id, group_key, group_value, assigned_at)
			 VALUES (?, ?, ?, ?, ?)`,
			a.ParticipantID, a.StudyID, a.GroupKey, a.GroupValue, encodeTime(a.AssignedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant assignment: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	if r.Plan != nil {
		plan, err := encodeJSON(r.Plan.Plan)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_plans (participant_id, study_id, plan, created_at) VALUES (?, ?, ?, ?)`,
			r.Plan.ParticipantID, r.Plan.StudyID, plan, encodeTime(r.Plan.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule plan: %w", err)
		}
		if r.Plan.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit intake results: %w", err)
	}
	return nil
}

// LatestSubmission returns the most recent submission for a participant in a
// study, ties broken by highest id. Returns (nil, nil) when none exists.
func (s *Store) LatestSubmission(ctx context.Context, studyID, participantID string) (*types.FormSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sub types.FormSubmission
	var answers sql.NullString
	var submittedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, study_id, participant_id, form_template_id, answers, submitted_at
		 FROM form_submissions WHERE study_id = ? AND participant_id = ?
		 ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		studyID, participantID,
	).Scan(&sub.ID, &sub.StudyID, &sub.ParticipantID, &sub.FormTemplateID, &answers, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest submission: %w", err)
	}
	sub.Answers = decodeJSONMap(answers)
	sub.SubmittedAt = decodeTime(submittedAt)
	return &sub, nil
}

// ListComputedValues returns a submission's computed values ordered by id.
func (s *Store) ListComputedValues(ctx context.Context, submissionID int64) ([]types.ComputedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, key, value, computed_at FROM computed_values WHERE submission_id = ? ORDER BY id ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list computed values: %w", err)
	}
	defer rows.Close()

	var values []types.ComputedValue
	for rows.Next() {
		var cv types.ComputedValue
		var value sql.NullString
		var computedAt string
		if err := rows.Scan(&cv.ID, &cv.SubmissionID, &cv.Key, &value, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan computed value: %w", err)
		}
		cv.Value = decodeJSON(value)
		cv.ComputedAt = decodeTime(computedAt)
		values = append(values, cv)
	}
	return values, rows.Err()
}

// ListRuleEvaluations returns a submission's rule evaluations ordered by id,
// detail decoded.
func (s *Store) ListRuleEvaluations(ctx context.Context, submissionID int64) ([]types.RuleEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, rule_set_id, result, detail, evaluated_at
		 FROM rule_evaluations WHERE submission_id = ? ORDER BY id ASC`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule evaluations: %w", err)
	}
	defer rows.Close()

	var evals []types.RuleEvaluation
	for rows.Next() {
		var ev types.RuleEvaluation
		var detail sql.NullString
		var evaluatedAt string
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.RuleSetID, &ev.Result, &detail, &evaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule evaluation: %w", err)
		}
		ev.Detail = decodeJSONMap(detail)
		ev.EvaluatedAt = decodeTime(evaluatedAt)
		evals = append(evals, ev)
	}
	return evals, rows.Err()
}

// ListAssignments returns a participant's assignments in a study, most
// recent first.
func (s *Store) ListAssignments(ctx context.Context, studyID, participantID string) ([]types.ParticipantAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, participant_id, study_id, group_key, group_value, assigned_at
		 FROM participant_assignments WHERE study_id = ? AND participant_id = ?
		 ORDER BY assigned_at DESC, id DESC`,
		studyID, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []types.ParticipantAssignment
	for rows.Next() {
		var a types.ParticipantAssignment
		var assignedAt string
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.StudyID, &a.GroupKey, &a.GroupValue, &assignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.AssignedAt = decodeTime(assignedAt)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// LatestSchedulePlan returns the most recent plan for a participant in a
// study, or (nil, nil) when none exists.
func (s *Store) LatestSchedulePlan(ctx context.Context, studyID, participantID string) (*types.SchedulePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p types.SchedulePlan
	var plan sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participant_id, study_id, plan, created_at
		 FROM schedule_plans WHERE study_id = ? AND participant_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		studyID, participantID,
	).Scan(&p.ID, &p.ParticipantID, &p.StudyID, &plan, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schedule plan: %w", err)
	}
	p.Plan = decodeJSON(plan)
	p.CreatedAt = decodeTime(createdAt)
	return &p, nil
}
