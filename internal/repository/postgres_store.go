package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowd/pkg/models"
)

// PostgresDefinitionStore is a PostgreSQL implementation of DefinitionStore.
// Definitions are stored as their canonical JSON wire form.
type PostgresDefinitionStore struct {
	db *pgxpool.Pool
}

// NewPostgresDefinitionStore creates a new PostgresDefinitionStore.
func NewPostgresDefinitionStore(db *pgxpool.Pool) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{db: db}
}

// Save stores a validated definition.
func (s *PostgresDefinitionStore) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition %q: %w", def.ID, err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO workflow_definitions (id, payload) VALUES ($1, $2)",
		def.ID, payload)
	return err
}

// Get retrieves a definition by its id.
func (s *PostgresDefinitionStore) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		"SELECT payload FROM workflow_definitions WHERE id = $1", id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("definition %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var def models.WorkflowDefinition
	if err := json.Unmarshal(payload, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %q: %w", id, err)
	}
	return &def, nil
}

// List returns all stored definitions.
func (s *PostgresDefinitionStore) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.Query(ctx, "SELECT payload FROM workflow_definitions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var def models.WorkflowDefinition
		if err := json.Unmarshal(payload, &def); err != nil {
			return nil, err
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

// PostgresRunStore is a PostgreSQL implementation of RunStore. Step records
// and the execution context are stored as jsonb alongside the queryable
// run columns.
type PostgresRunStore struct {
	db *pgxpool.Pool
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// Save stores a newly created run.
func (s *PostgresRunStore) Save(ctx context.Context, run *models.WorkflowRun) error {
	steps, context_, err := marshalRunState(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_runs (id, definition_id, triggered_by, status, steps, context, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.DefinitionID, run.TriggeredBy, run.Status, steps, context_, run.CreatedAt, run.UpdatedAt)
	return err
}

// Update replaces the stored state of an existing run.
func (s *PostgresRunStore) Update(ctx context.Context, run *models.WorkflowRun) error {
	steps, context_, err := marshalRunState(run)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_runs SET status = $1, steps = $2, context = $3, updated_at = $4 WHERE id = $5",
		run.Status, steps, context_, run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %q: %w", run.ID, ErrNotFound)
	}
	return nil
}

// Get retrieves a run by its id.
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRow(ctx,
		`SELECT id, definition_id, triggered_by, status, steps, context, created_at, updated_at
		 FROM workflow_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return run, err
}

// List returns runs, optionally filtered by definition id, newest first.
func (s *PostgresRunStore) List(ctx context.Context, definitionID string) ([]*models.WorkflowRun, error) {
	query := `SELECT id, definition_id, triggered_by, status, steps, context, created_at, updated_at
		 FROM workflow_runs`
	args := []any{}
	if definitionID != "" {
		query += " WHERE definition_id = $1"
		args = append(args, definitionID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EnsureSchema creates the engine tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_definitions (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id UUID PRIMARY KEY,
			definition_id TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			status TEXT NOT NULL,
			steps JSONB NOT NULL,
			context JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS workflow_runs_definition_idx ON workflow_runs (definition_id);
	`)
	return err
}

func marshalRunState(run *models.WorkflowRun) (steps, context_ []byte, err error) {
	steps, err = json.Marshal(run.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal steps for run %q: %w", run.ID, err)
	}
	context_, err = json.Marshal(run.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal context for run %q: %w", run.ID, err)
	}
	return steps, context_, nil
}

func scanRun(row pgx.Row) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var steps, context_ []byte
	err := row.Scan(&run.ID, &run.DefinitionID, &run.TriggeredBy, &run.Status,
		&steps, &context_, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for run %q: %w", run.ID, err)
	}
	if len(context_) > 0 {
		if err := json.Unmarshal(context_, &run.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context for run %q: %w", run.ID, err)
		}
	}
	return &run, nil
}
