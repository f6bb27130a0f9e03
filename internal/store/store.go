// Package store persists studykit entities in SQLite. Nested payloads
// (answers, expressions, plans) are stored as JSON text columns; the engine
// owns their interpretation. All tables are append-only except for the admin
// entities, which are insert-only anyway.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database behind typed accessors.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// New opens (or creates) the SQLite database at path and ensures the schema.
// Use ":memory:" for an ephemeral database in tests.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent; writes are
	// serialized by the store mutex anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initialize creates the required tables and indices.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS form_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_form_templates_study ON form_templates(study_id);

	CREATE TABLE IF NOT EXISTS form_fields (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		form_template_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		required INTEGER NOT NULL DEFAULT 0,
		options TEXT,
		validation TEXT,
		order_index INTEGER NOT NULL DEFAULT 0,
		UNIQUE(form_template_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_form_fields_template ON form_fields(form_template_id);

	CREATE TABLE IF NOT EXISTS form_logic (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		form_template_id INTEGER NOT NULL,
		logic TEXT,
		order_index INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_form_logic_template ON form_logic(form_template_id);

	CREATE TABLE IF NOT EXISTS compute_definitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT NOT NULL,
		key TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		definition TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'draft'
	);
	CREATE INDEX IF NOT EXISTS idx_compute_definitions_study ON compute_definitions(study_id);

	CREATE TABLE IF NOT EXISTS rule_sets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'published',
		expression TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rule_sets_study ON rule_sets(study_id);

	CREATE TABLE IF NOT EXISTS form_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		form_template_id INTEGER NOT NULL,
		answers TEXT,
		submitted_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_form_submissions_study ON form_submissions(study_id, participant_id);

	CREATE TABLE IF NOT EXISTS computed_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		computed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_computed_values_submission ON computed_values(submission_id);

	CREATE TABLE IF NOT EXISTS rule_evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		rule_set_id INTEGER NOT NULL,
		result INTEGER NOT NULL,
		detail TEXT,
		evaluated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rule_evaluations_submission ON rule_evaluations(submission_id);

	CREATE TABLE IF NOT EXISTS participant_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_id TEXT NOT NULL,
		study_id TEXT NOT NULL,
		group_key TEXT NOT NULL,
		group_value TEXT NOT NULL,
		assigned_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_participant_assignments_study ON participant_assignments(study_id, participant_id);

	CREATE TABLE IF NOT EXISTS schedule_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_id TEXT NOT NULL,
		study_id TEXT NOT NULL,
		plan TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_plans_study ON schedule_plans(study_id, participant_id);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT,
		participant_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id INTEGER,
		detail TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_study ON audit_logs(study_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// =============================================================================
// JSON AND TIME COLUMN HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

// encodeJSON renders a nested payload for a TEXT column. Nil stays NULL.
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeJSON parses a TEXT column back into an untyped value.
func decodeJSON(s sql.NullString) any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil
	}
	return v
}

// decodeJSONMap parses a TEXT column holding an object.
func decodeJSONMap(s sql.NullString) map[string]any {
	m, _ := decodeJSON(s).(map[string]any)
	return m
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
