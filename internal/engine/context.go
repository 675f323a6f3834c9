package engine

import (
	"fmt"
	"strings"
)

// ExecutionContext holds the outputs produced by a run's steps, keyed by
// step id. It is owned exclusively by one run: the scheduler goroutine is
// the single writer, and each step's outputs are written exactly once.
type ExecutionContext struct {
	values map[string]map[string]any
}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]map[string]any)}
}

// Put records a step's outputs. A second write for the same step id is a
// programming error in the scheduler and is rejected.
func (c *ExecutionContext) Put(stepID string, outputs map[string]any) error {
	if _, exists := c.values[stepID]; exists {
		return fmt.Errorf("outputs for step %q already written", stepID)
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	c.values[stepID] = outputs
	return nil
}

// Resolve walks a dotted path ("stepId.field.nested") through the stored
// outputs. The second return is false when any segment is missing or a
// non-map value is traversed; a missing path is an expected outcome, not
// an error.
func (c *ExecutionContext) Resolve(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, false
	}
	outputs, ok := c.values[segments[0]]
	if !ok {
		return nil, false
	}
	var current any = map[string]any(outputs)
	for _, seg := range segments[1:] {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Snapshot returns a copy of the context tree for handing to handlers and
// run records.
func (c *ExecutionContext) Snapshot() map[string]map[string]any {
	snap := make(map[string]map[string]any, len(c.values))
	for step, outputs := range c.values {
		inner := make(map[string]any, len(outputs))
		for k, v := range outputs {
			inner[k] = v
		}
		snap[step] = inner
	}
	return snap
}
