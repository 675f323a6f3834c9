package engine

import (
	"context"
	"fmt"
	"time"

	"flowd/pkg/models"
)

// Decision is an external verdict on an approval-gated step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// SubmitDecision resolves an approval gate. Approve treats the gated step
// as succeeded, merging any approver-supplied outputs, and resumes the
// walk. Reject runs the step's fallback if one is declared; otherwise the
// run terminates failed. The suspended run holds no goroutine, so this is
// the only way it progresses.
func (e *Engine) SubmitDecision(ctx context.Context, runID, stepID string, decision Decision, comments string, outputs map[string]any) error {
	if decision != DecisionApprove && decision != DecisionReject {
		return fmt.Errorf("invalid decision %q", decision)
	}

	e.mu.Lock()
	rs, ok := e.active[runID]
	if !ok {
		e.mu.Unlock()
		if _, err := e.runs.Get(ctx, runID); err == nil {
			return ErrRunTerminal
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rs.run.Status != models.RunStatusAwaitingApproval || rs.gateIndex < 0 ||
		rs.run.Steps[rs.gateIndex].StepID != stepID {
		e.mu.Unlock()
		return ErrNotAwaitingApproval
	}

	idx := rs.gateIndex
	rs.gateIndex = -1
	sr := &rs.run.Steps[idx]
	sr.Comments = comments
	rs.run.Status = models.RunStatusRunning

	if decision == DecisionApprove {
		now := time.Now()
		sr.Status = models.StepStatusSucceeded
		sr.CompletedAt = &now
		if err := rs.execCtx.Put(stepID, outputs); err != nil {
			e.logger.Error("execution context write rejected", "run", runID, "step", stepID, "error", err)
		}
		e.persistLocked(rs)
		e.mu.Unlock()
		e.metrics.AddStepFinished(rs.runCtx, models.StepStatusSucceeded)
		e.logger.Info("approval granted, run resuming", "run", runID, "step", stepID)
		go e.walk(rs, idx+1)
		return nil
	}

	step := rs.def.Steps[idx]
	e.persistLocked(rs)
	e.mu.Unlock()
	e.logger.Info("approval rejected", "run", runID, "step", stepID)

	rejection := &ApprovalRejectedError{StepID: stepID, Comments: comments}
	go e.resolveRejection(rs, idx, step, rejection)
	return nil
}

// resolveRejection handles a rejected gate off the caller's thread: the
// fallback may invoke handlers and must not block the approval API.
func (e *Engine) resolveRejection(rs *runState, idx int, step models.Step, rejection *ApprovalRejectedError) {
	if step.OnError != nil && step.OnError.Fallback != "" {
		recovered, cancelled := e.runFallback(rs, step.OnError.Fallback)
		if recovered {
			e.completeStep(rs, idx, nil, rejection.Error())
			e.walk(rs, idx+1)
			return
		}
		if cancelled || e.cancelled(rs) {
			e.finish(rs, models.RunStatusCancelled)
			return
		}
	}
	e.failStep(rs, idx, rejection)
	e.finish(rs, models.RunStatusFailed)
}
