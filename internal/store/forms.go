package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"studykit/internal/types"
)

// InsertFormTemplate stores a template and fills its id and created_at.
func (s *Store) InsertFormTemplate(ctx context.Context, t *types.FormTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO form_templates (study_id, name, version, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.StudyID, t.Name, t.Version, t.Status, encodeTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert form template: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetFormTemplate fetches a template by id within a study. Returns
// (nil, nil) when the study holds no such template.
func (s *Store) GetFormTemplate(ctx context.Context, studyID string, id int64) (*types.FormTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t types.FormTemplate
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, study_id, name, version, status, created_at FROM form_templates WHERE id = ? AND study_id = ?`,
		id, studyID,
	).Scan(&t.ID, &t.StudyID, &t.Name, &t.Version, &t.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form template: %w", err)
	}
	t.CreatedAt = decodeTime(createdAt)
	return &t, nil
}

// InsertFormField stores a field and fills its id.
func (s *Store) InsertFormField(ctx context.Context, f *types.FormField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	options, err := encodeJSON(f.Options)
	if err != nil {
		return err
	}
	validation, err := encodeJSON(f.Validation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO form_fields (form_template_id, key, label, type, required, options, validation, order_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FormTemplateID, f.Key, f.Label, f.Type, f.Required, options, validation, f.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to insert form field: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

// ListFormFields returns a template's fields ordered by order_index, then id.
func (s *Store) ListFormFields(ctx context.Context, formTemplateID int64) ([]types.FormField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, form_template_id, key, label, type, required, options, validation, order_index
		 FROM form_fields WHERE form_template_id = ? ORDER BY order_index ASC, id ASC`,
		formTemplateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list form fields: %w", err)
	}
	defer rows.Close()

	var fields []types.FormField
	for rows.Next() {
		var f types.FormField
		var options, validation sql.NullString
		if err := rows.Scan(&f.ID, &f.FormTemplateID, &f.Key, &f.Label, &f.Type, &f.Required, &options, &validation, &f.OrderIndex); err != nil {
			return nil, fmt.Errorf("failed to scan form field: %w", err)
		}
		f.Options = decodeJSON(options)
		f.Validation = decodeJSONMap(validation)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// InsertFormLogic stores a logic row and fills its id. The engine never
// interprets logic; it is kept for the form UI.
func (s *Store) InsertFormLogic(ctx context.Context, l *types.FormLogic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logic, err := encodeJSON(l.Logic)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO form_logic (form_template_id, logic, order_index) VALUES (?, ?, ?)`,
		l.FormTemplateID, logic, l.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to insert form logic: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}
