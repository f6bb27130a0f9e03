package store

import (
	"context"
	"database/sql"
	"fmt"

	"studykit/internal/types"
)

// InsertAuditLog appends one audit record. Callers treat failures as
// best-effort; the method still reports them so the emitter can log.
func (s *Store) InsertAuditLog(ctx context.Context, a *types.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, err := encodeJSON(a.Detail)
	if err != nil {
		return err
	}
	var entityID sql.NullInt64
	if a.EntityID != 0 {
		entityID = sql.NullInt64{Int64: a.EntityID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (study_id, participant_id, action, entity_type, entity_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.StudyID, a.ParticipantID, a.Action, a.EntityType, entityID, detail, encodeTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// CountAuditLogs reports the number of audit records for a study with the
// given action. Used by tests and operational checks.
func (s *Store) CountAuditLogs(ctx context.Context, studyID, action string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE study_id = ? AND action = ?`,
		studyID, action,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

// CountRows reports the row count of one of the engine's tables. Used by
// tests and the stats endpoint of operational tooling.
func (s *Store) CountRows(table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch table {
	case "form_templates", "form_fields", "form_logic", "compute_definitions", "rule_sets",
		"form_submissions", "computed_values", "rule_evaluations", "participant_assignments",
		"schedule_plans", "audit_logs":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}
