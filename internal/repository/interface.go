package repository

import (
	"context"
	"errors"

	"flowd/pkg/models"
)

// ErrNotFound is returned when a definition or run does not exist.
var ErrNotFound = errors.New("not found")

// DefinitionStore holds validated workflow definitions. Definitions are
// immutable once saved.
type DefinitionStore interface {
	// Save stores a validated definition.
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	// Get retrieves a definition by its id.
	Get(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// List returns all stored definitions.
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// RunStore holds workflow runs and their per-step records.
type RunStore interface {
	// Save stores a newly created run.
	Save(ctx context.Context, run *models.WorkflowRun) error
	// Update replaces the stored state of an existing run.
	Update(ctx context.Context, run *models.WorkflowRun) error
	// Get retrieves a run by its id.
	Get(ctx context.Context, id string) (*models.WorkflowRun, error)
	// List returns runs, optionally filtered by definition id.
	List(ctx context.Context, definitionID string) ([]*models.WorkflowRun, error)
}
