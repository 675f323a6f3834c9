package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
	RunStatusCancelled        RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the per-step execution state within a run.
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusSkipped          StepStatus = "skipped"
	StepStatusSucceeded        StepStatus = "succeeded"
	StepStatusFailed           StepStatus = "failed"
	StepStatusAwaitingApproval StepStatus = "awaiting_approval"
)

// Terminal reports whether the step has reached a final per-step state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSkipped || s == StepStatusSucceeded || s == StepStatusFailed
}

// StepRun records the execution of one step within a run.
type StepRun struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Comments    string     `json:"comments,omitempty"`
}

// WorkflowRun is one instantiation of a WorkflowDefinition. Steps mirror
// the definition's declared order. Context holds step outputs keyed by
// step id; it is owned exclusively by this run.
type WorkflowRun struct {
	ID           string                    `json:"id"`
	DefinitionID string                    `json:"definition_id"`
	TriggeredBy  string                    `json:"triggered_by"`
	Status       RunStatus                 `json:"status"`
	Steps        []StepRun                 `json:"steps"`
	Context      map[string]map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// StepRun returns the run record for the given step id, or nil.
func (r *WorkflowRun) StepRun(stepID string) *StepRun {
	for i := range r.Steps {
		if r.Steps[i].StepID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to API consumers while the
// scheduler keeps mutating the original.
func (r *WorkflowRun) Clone() *WorkflowRun {
	cp := *r
	cp.Steps = make([]StepRun, len(r.Steps))
	copy(cp.Steps, r.Steps)
	if r.Context != nil {
		cp.Context = make(map[string]map[string]any, len(r.Context))
		for step, outputs := range r.Context {
			inner := make(map[string]any, len(outputs))
			for k, v := range outputs {
				inner[k] = v
			}
			cp.Context[step] = inner
		}
	}
	return &cp
}
