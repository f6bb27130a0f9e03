package store

import (
	"context"
	"database/sql"
	"fmt"

	"studykit/internal/types"
)

// InsertComputeDefinition stores a compute definition and fills its id.
func (s *Store) InsertComputeDefinition(ctx context.Context, d *types.ComputeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var definition sql.NullString
	if len(d.Definition) > 0 {
		definition = sql.NullString{String: string(d.Definition), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO compute_definitions (study_id, key, type, definition, version, status) VALUES (?, ?, ?, ?, ?, ?)`,
		d.StudyID, d.Key, d.Type, definition, d.Version, d.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert compute definition: %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

// ListPublishedComputeDefinitions returns a study's published definitions in
// insertion order.
func (s *Store) ListPublishedComputeDefinitions(ctx context.Context, studyID string) ([]types.ComputeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, study_id, key, type, definition, version, status
		 FROM compute_definitions WHERE study_id = ? AND status = ? ORDER BY id ASC`,
		studyID, types.StatusPublished,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list compute definitions: %w", err)
	}
	defer rows.Close()

	var defs []types.ComputeDefinition
	for rows.Next() {
		var d types.ComputeDefinition
		var definition sql.NullString
		if err := rows.Scan(&d.ID, &d.StudyID, &d.Key, &d.Type, &definition, &d.Version, &d.Status); err != nil {
			return nil, fmt.Errorf("failed to scan compute definition: %w", err)
		}
		if definition.Valid {
			d.Definition = []byte(definition.String)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// InsertRuleSet stores a rule set and fills its id and created_at.
func (s *Store) InsertRuleSet(ctx context.Context, r *types.RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expression sql.NullString
	if len(r.Expression) > 0 {
		expression = sql.NullString{String: string(r.Expression), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_sets (study_id, rule_type, name, version, status, expression, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.StudyID, r.RuleType, r.Name, r.Version, r.Status, expression, encodeTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ListPublishedRuleSets returns a study's published rule sets in insertion
// order.
func (s *Store) ListPublishedRuleSets(ctx context.Context, studyID string) ([]types.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, study_id, rule_type, name, version, status, expression, created_at
		 FROM rule_sets WHERE study_id = ? AND status = ? ORDER BY id ASC`,
		studyID, types.StatusPublished,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var sets []types.RuleSet
	for rows.Next() {
		var r types.RuleSet
		var expression sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.StudyID, &r.RuleType, &r.Name, &r.Version, &r.Status, &expression, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		if expression.Valid {
			r.Expression = []byte(expression.String)
		}
		r.CreatedAt = decodeTime(createdAt)
		sets = append(sets, r)
	}
	return sets, rows.Err()
}
