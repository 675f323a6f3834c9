package engine

import (
	"context"
	"time"

	"flowd/internal/logging"
	"flowd/pkg/models"
)

// Executor invokes a step's handler with a bounded timeout and applies
// the step's declared retry policy: a fixed delay between attempts, never
// more than attempts+1 invocations in total.
type Executor struct {
	handler StepHandler
	timeout time.Duration
	logger  *logging.Logger
	metrics *Metrics
}

// NewExecutor creates a new Executor.
func NewExecutor(handler StepHandler, timeout time.Duration, logger *logging.Logger, metrics *Metrics) *Executor {
	return &Executor{handler: handler, timeout: timeout, logger: logger, metrics: metrics}
}

// Execute runs one step to a per-step terminal outcome, retrying per
// policy. It returns the handler outputs and the number of invocation
// attempts made. Fallback, escalation, and notification are the
// scheduler's concern.
func (e *Executor) Execute(ctx context.Context, step models.Step, execCtx map[string]map[string]any) (map[string]any, int, error) {
	attempts := 0
	maxAttempts := 1
	var delay time.Duration
	if step.OnError != nil && step.OnError.Retry != nil {
		maxAttempts = step.OnError.Retry.Attempts + 1
		delay = time.Duration(step.OnError.Retry.DelayMs) * time.Millisecond
	}

	req := HandlerRequest{
		Agent:      step.Agent,
		Service:    step.Service,
		Action:     step.Action,
		Parameters: step.Parameters,
		Context:    execCtx,
	}

	var lastErr error
	for attempts < maxAttempts {
		if attempts > 0 {
			e.metrics.AddRetry(ctx)
			if err := sleep(ctx, delay); err != nil {
				return nil, attempts, err
			}
		}
		attempts++

		outputs, err := e.invoke(ctx, req)
		if err == nil {
			return outputs, attempts, nil
		}
		lastErr = &HandlerError{Agent: step.Agent, Service: step.Service, Action: step.Action, Err: err}
		e.logger.Warn("step handler failed",
			"step", step.ID, "attempt", attempts, "max_attempts", maxAttempts, "error", err)

		// A cancelled run stops retrying immediately.
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
	}
	return nil, attempts, lastErr
}

// invoke applies the bounded per-invocation timeout; a handler that does
// not return within it is treated as failed.
func (e *Executor) invoke(ctx context.Context, req HandlerRequest) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.handler.Invoke(callCtx, req)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
