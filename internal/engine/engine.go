// Package engine executes workflow runs: an ordered walk over a
// definition's steps with conditional skipping, bounded retries, fallback
// recovery, approval suspension, and escalation on unresolved failure.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowd/internal/logging"
	"flowd/internal/repository"
	"flowd/pkg/models"
)

// Engine schedules workflow runs. Each run is an independent unit of
// sequential work: its steps execute strictly one after another on a
// dedicated goroutine, while separate runs progress concurrently and
// share nothing but read-only definitions.
type Engine struct {
	runs    repository.RunStore
	exec    *Executor
	alerts  *Dispatcher
	logger  *logging.Logger
	metrics *Metrics

	mu     sync.Mutex
	active map[string]*runState
}

// runState is the live scheduling state of one non-terminal run. The
// engine mutex guards every field except the handler invocation itself,
// which runs unlocked under runCtx.
type runState struct {
	def             *models.WorkflowDefinition
	run             *models.WorkflowRun
	execCtx         *ExecutionContext
	runCtx          context.Context
	cancel          context.CancelFunc
	gateIndex       int
	cancelRequested bool
}

// New creates a new Engine.
func New(runs repository.RunStore, exec *Executor, alerts *Dispatcher, logger *logging.Logger, metrics *Metrics) *Engine {
	return &Engine{
		runs:    runs,
		exec:    exec,
		alerts:  alerts,
		logger:  logger,
		metrics: metrics,
		active:  make(map[string]*runState),
	}
}

// StartRun creates a pending run for the definition and begins scheduling
// it. The returned run is a snapshot; progress is observable via GetRun.
func (e *Engine) StartRun(ctx context.Context, def *models.WorkflowDefinition, triggeredBy string) (*models.WorkflowRun, error) {
	now := time.Now()
	run := &models.WorkflowRun{
		ID:           uuid.New().String(),
		DefinitionID: def.ID,
		TriggeredBy:  triggeredBy,
		Status:       models.RunStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, step := range def.Steps {
		run.Steps = append(run.Steps, models.StepRun{StepID: step.ID, Status: models.StepStatusPending})
	}
	if err := e.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{
		def:       def,
		run:       run,
		execCtx:   NewExecutionContext(),
		runCtx:    runCtx,
		cancel:    cancel,
		gateIndex: -1,
	}
	e.mu.Lock()
	e.active[run.ID] = rs
	e.mu.Unlock()

	e.metrics.AddRunStarted(ctx)
	e.logger.Info("run started", "run", run.ID, "definition", def.ID, "triggered_by", triggeredBy)

	// Snapshot before the scheduler goroutine starts mutating the record.
	snapshot := run.Clone()
	go e.walk(rs, 0)
	return snapshot, nil
}

// GetRun returns the current state of a run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// ListRuns returns runs, optionally filtered by definition id.
func (e *Engine) ListRuns(ctx context.Context, definitionID string) ([]*models.WorkflowRun, error) {
	return e.runs.List(ctx, definitionID)
}

// Cancel requests cancellation of a run. An in-flight handler call is
// interrupted; a run suspended at an approval gate is finalized directly.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	rs, ok := e.active[runID]
	if !ok {
		e.mu.Unlock()
		if _, err := e.runs.Get(ctx, runID); err == nil {
			return ErrRunTerminal
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rs.cancelRequested = true
	suspended := rs.run.Status == models.RunStatusAwaitingApproval
	if suspended && rs.gateIndex >= 0 {
		// No goroutine is parked on a suspended run, so the gate step is
		// released here and the run finalized below.
		rs.run.Steps[rs.gateIndex].Status = models.StepStatusPending
		rs.gateIndex = -1
	}
	rs.cancel()
	e.mu.Unlock()

	if suspended {
		e.finish(rs, models.RunStatusCancelled)
	}
	return nil
}

// walk advances a run from the given step index until it suspends or
// reaches a terminal status. Steps already terminal (recovered out of
// order through a fallback) are passed over.
func (e *Engine) walk(rs *runState, start int) {
	e.mu.Lock()
	if rs.run.Status == models.RunStatusPending {
		rs.run.Status = models.RunStatusRunning
		e.persistLocked(rs)
	}
	e.mu.Unlock()

	for i := start; i < len(rs.def.Steps); i++ {
		if e.cancelled(rs) {
			e.finish(rs, models.RunStatusCancelled)
			return
		}

		step := rs.def.Steps[i]

		e.mu.Lock()
		sr := &rs.run.Steps[i]
		if sr.Status.Terminal() {
			e.mu.Unlock()
			continue
		}
		if !ConditionsMet(rs.execCtx, step.Conditions) {
			e.mu.Unlock()
			e.skipStep(rs, i)
			continue
		}
		if step.HumanApprovalRequired {
			now := time.Now()
			sr.Status = models.StepStatusAwaitingApproval
			sr.StartedAt = &now
			rs.run.Status = models.RunStatusAwaitingApproval
			rs.gateIndex = i
			e.persistLocked(rs)
			e.mu.Unlock()
			e.logger.Info("run suspended at approval gate", "run", rs.run.ID, "step", step.ID)
			return
		}
		e.mu.Unlock()

		if !e.runStep(rs, i, step) {
			if e.cancelled(rs) {
				e.finish(rs, models.RunStatusCancelled)
			} else {
				e.finish(rs, models.RunStatusFailed)
			}
			return
		}
	}
	e.finish(rs, models.RunStatusCompleted)
}

// runStep executes one step to a per-step terminal outcome, including its
// declared recovery policy. It reports whether the run may continue.
func (e *Engine) runStep(rs *runState, idx int, step models.Step) bool {
	e.mu.Lock()
	sr := &rs.run.Steps[idx]
	now := time.Now()
	sr.StartedAt = &now
	snapshot := rs.execCtx.Snapshot()
	e.mu.Unlock()

	outputs, attempts, err := e.exec.Execute(rs.runCtx, step, snapshot)

	e.mu.Lock()
	sr.Attempts += attempts
	e.mu.Unlock()

	if err == nil {
		e.completeStep(rs, idx, outputs, "")
		return true
	}
	if rs.runCtx.Err() != nil {
		return false
	}
	return e.recoverStep(rs, idx, step, err)
}

// recoverStep applies the step's error handling once retries are
// exhausted: fallback first, then escalation and notification when the
// failure stays unresolved.
func (e *Engine) recoverStep(rs *runState, idx int, step models.Step, cause error) bool {
	policy := step.OnError
	e.logger.Warn("step failed after retries", "run", rs.run.ID, "step", step.ID, "error", cause)

	if policy != nil && policy.Fallback != "" {
		recovered, cancelled := e.runFallback(rs, policy.Fallback)
		if recovered {
			// The fallback recovered the step; the original failure is
			// retained on its record.
			e.completeStep(rs, idx, nil, cause.Error())
			return true
		}
		if cancelled {
			return false
		}
	}

	e.mu.Lock()
	attempts := rs.run.Steps[idx].Attempts
	e.mu.Unlock()
	if policy != nil && policy.Escalate {
		e.alerts.Escalate(rs.runCtx, rs.run.ID, step.ID, attempts, cause.Error())
	}
	if policy != nil && policy.Notification != nil {
		e.alerts.Notify(rs.runCtx, rs.run.ID, step.ID, attempts,
			policy.Notification.Channels, policy.Notification.Recipients,
			map[string]any{
				"run_id":  rs.run.ID,
				"step_id": step.ID,
				"error":   cause.Error(),
			})
	}

	e.failStep(rs, idx, cause)
	return false
}

// runFallback executes a declared fallback under the same gating as the
// ordered walk. A fallback that already succeeded earlier in the walk
// counts as recovery without re-invoking its handler, so its outputs are
// still written exactly once. An approval-gated fallback cannot resolve a
// failure without a decision, and a fallback whose conditions are unmet
// is skipped, not forced. The second return reports cancellation.
func (e *Engine) runFallback(rs *runState, fallbackID string) (recovered, cancelled bool) {
	fbIdx := stepIndex(rs.def, fallbackID)
	if fbIdx < 0 {
		return false, false
	}
	fb := rs.def.Steps[fbIdx]

	e.mu.Lock()
	status := rs.run.Steps[fbIdx].Status
	conditionsMet := ConditionsMet(rs.execCtx, fb.Conditions)
	e.mu.Unlock()

	switch {
	case status == models.StepStatusSucceeded:
		return true, false
	case status.Terminal():
		return false, false
	case fb.HumanApprovalRequired:
		e.logger.Warn("fallback step requires approval, cannot recover",
			"run", rs.run.ID, "step", fb.ID)
		return false, false
	case !conditionsMet:
		e.skipStep(rs, fbIdx)
		return false, false
	}

	if e.runStep(rs, fbIdx, fb) {
		return true, false
	}
	return false, rs.runCtx.Err() != nil
}

// skipStep marks a step skipped without invoking its handler.
func (e *Engine) skipStep(rs *runState, idx int) {
	e.mu.Lock()
	sr := &rs.run.Steps[idx]
	now := time.Now()
	sr.Status = models.StepStatusSkipped
	sr.CompletedAt = &now
	stepID := sr.StepID
	e.persistLocked(rs)
	e.mu.Unlock()
	e.metrics.AddStepFinished(rs.runCtx, models.StepStatusSkipped)
	e.logger.Debug("step skipped", "run", rs.run.ID, "step", stepID)
}

// completeStep marks a step succeeded and merges its outputs into the
// execution context.
func (e *Engine) completeStep(rs *runState, idx int, outputs map[string]any, retainedError string) {
	e.mu.Lock()
	sr := &rs.run.Steps[idx]
	now := time.Now()
	sr.Status = models.StepStatusSucceeded
	sr.CompletedAt = &now
	sr.LastError = retainedError
	if err := rs.execCtx.Put(sr.StepID, outputs); err != nil {
		e.logger.Error("execution context write rejected", "run", rs.run.ID, "step", sr.StepID, "error", err)
	}
	e.persistLocked(rs)
	e.mu.Unlock()
	e.metrics.AddStepFinished(rs.runCtx, models.StepStatusSucceeded)
}

// failStep marks a step terminally failed.
func (e *Engine) failStep(rs *runState, idx int, cause error) {
	e.mu.Lock()
	sr := &rs.run.Steps[idx]
	now := time.Now()
	sr.Status = models.StepStatusFailed
	sr.CompletedAt = &now
	sr.LastError = cause.Error()
	e.persistLocked(rs)
	e.mu.Unlock()
	e.metrics.AddStepFinished(rs.runCtx, models.StepStatusFailed)
}

// finish moves the run to a terminal status exactly once and retires its
// scheduling state.
func (e *Engine) finish(rs *runState, status models.RunStatus) {
	e.mu.Lock()
	if rs.run.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	rs.run.Status = status
	e.persistLocked(rs)
	delete(e.active, rs.run.ID)
	e.mu.Unlock()

	rs.cancel()
	e.metrics.AddRunFinished(context.Background(), status)
	e.logger.Info("run finished", "run", rs.run.ID, "status", status)
}

func (e *Engine) cancelled(rs *runState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rs.cancelRequested
}

// persistLocked mirrors the run into the store; callers hold the engine
// mutex. Persistence uses a background context so a cancelled run still
// records its final state.
func (e *Engine) persistLocked(rs *runState) {
	rs.run.Context = rs.execCtx.Snapshot()
	rs.run.UpdatedAt = time.Now()
	if err := e.runs.Update(context.Background(), rs.run); err != nil {
		e.logger.Error("failed to persist run", "run", rs.run.ID, "error", err)
	}
}

func stepIndex(def *models.WorkflowDefinition, id string) int {
	for i := range def.Steps {
		if def.Steps[i].ID == id {
			return i
		}
	}
	return -1
}
