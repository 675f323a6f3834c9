package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flowd/pkg/models"
)

// MemoryDefinitionStore is an in-memory DefinitionStore. It is the default
// when no database is configured and backs the engine tests.
type MemoryDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]*models.WorkflowDefinition
}

// NewMemoryDefinitionStore creates a new MemoryDefinitionStore.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{defs: make(map[string]*models.WorkflowDefinition)}
}

// Save stores a validated definition.
func (s *MemoryDefinitionStore) Save(_ context.Context, def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("definition %q already exists", def.ID)
	}
	s.defs[def.ID] = def
	return nil
}

// Get retrieves a definition by its id.
func (s *MemoryDefinitionStore) Get(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("definition %q: %w", id, ErrNotFound)
	}
	return def, nil
}

// List returns all stored definitions sorted by id.
func (s *MemoryDefinitionStore) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*models.WorkflowDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// MemoryRunStore is an in-memory RunStore. Runs are cloned on the way in
// and out so the scheduler and API readers never share a mutable record.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.WorkflowRun
}

// NewMemoryRunStore creates a new MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*models.WorkflowRun)}
}

// Save stores a newly created run.
func (s *MemoryRunStore) Save(_ context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %q already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Update replaces the stored state of an existing run.
func (s *MemoryRunStore) Update(_ context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %q: %w", run.ID, ErrNotFound)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get retrieves a run by its id.
func (s *MemoryRunStore) Get(_ context.Context, id string) (*models.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

// List returns runs, optionally filtered by definition id, newest first.
func (s *MemoryRunStore) List(_ context.Context, definitionID string) ([]*models.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*models.WorkflowRun, 0, len(s.runs))
	for _, run := range s.runs {
		if definitionID != "" && run.DefinitionID != definitionID {
			continue
		}
		runs = append(runs, run.Clone())
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}
