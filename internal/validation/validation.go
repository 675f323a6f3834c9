// Package validation rejects malformed workflow definitions before any
// run is created. Definitions are rejected wholesale: every violation is
// reported, and a partially valid definition never executes.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/robfig/cron/v3"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"flowd/internal/engine"
	"flowd/pkg/models"
)

// ConfigurationError reports every violation found in a definition.
type ConfigurationError struct {
	Violations []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid workflow definition: %s", strings.Join(e.Violations, "; "))
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)+$`)

var (
	schemaOnce sync.Once
	schema     *jsonschemav5.Schema
	schemaErr  error
)

// definitionSchema reflects the WorkflowDefinition struct into a JSON
// Schema and compiles it once.
func definitionSchema() (*jsonschemav5.Schema, error) {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{}
		reflected := reflector.Reflect(&models.WorkflowDefinition{})
		raw, err := json.Marshal(reflected)
		if err != nil {
			schemaErr = fmt.Errorf("failed to marshal definition schema: %w", err)
			return
		}
		compiler := jsonschemav5.NewCompiler()
		if err := compiler.AddResource("schema://workflow-definition", bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("failed to add definition schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("schema://workflow-definition")
	})
	return schema, schemaErr
}

// ParseDefinition decodes a raw definition payload, checks its shape
// against the schema, and validates its semantics. On any violation the
// definition is rejected with a ConfigurationError.
func ParseDefinition(raw []byte) (*models.WorkflowDefinition, error) {
	var shape any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, &ConfigurationError{Violations: []string{fmt.Sprintf("payload is not valid JSON: %v", err)}}
	}

	compiled, err := definitionSchema()
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(shape); err != nil {
		return nil, &ConfigurationError{Violations: []string{fmt.Sprintf("payload does not match definition schema: %v", err)}}
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &ConfigurationError{Violations: []string{fmt.Sprintf("failed to decode definition: %v", err)}}
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks a decoded definition and collects every violation
// rather than stopping at the first.
func Validate(def *models.WorkflowDefinition) error {
	var violations []string
	report := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if def.ID == "" {
		report("definition id is required")
	}
	if def.Name == "" {
		report("definition name is required")
	}
	if def.Version == "" {
		report("definition version is required")
	}
	if len(def.Triggers) == 0 {
		report("at least one trigger is required")
	}
	if len(def.Steps) == 0 {
		report("at least one step is required")
	}

	for i, trigger := range def.Triggers {
		validateTrigger(i, trigger, report)
	}

	stepIDs := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		if step.ID == "" {
			report("step %d: id is required", i)
			continue
		}
		if prev, dup := stepIDs[step.ID]; dup {
			report("step %d: id %q already declared by step %d", i, step.ID, prev)
			continue
		}
		stepIDs[step.ID] = i
	}

	for i, step := range def.Steps {
		validateStep(i, step, stepIDs, def.Steps, report)
	}

	if cycle := fallbackCycle(def); cycle != "" {
		report("fallback chain is cyclic at step %q", cycle)
	}

	if len(violations) > 0 {
		return &ConfigurationError{Violations: violations}
	}
	return nil
}

func validateTrigger(i int, trigger models.Trigger, report func(string, ...any)) {
	switch trigger.Type {
	case models.TriggerTypeEvent:
		if trigger.Event == "" {
			report("trigger %d: event name is required", i)
		}
	case models.TriggerTypeScheduled:
		if trigger.Cron == "" {
			report("trigger %d: cron expression is required", i)
			return
		}
		if _, err := cron.ParseStandard(trigger.Cron); err != nil {
			report("trigger %d: invalid cron expression %q: %v", i, trigger.Cron, err)
		}
	case models.TriggerTypeThreshold:
		if trigger.Metric == "" {
			report("trigger %d: metric name is required", i)
		}
		if !validThresholdOperator(trigger.Operator) {
			report("trigger %d: invalid threshold operator %q", i, trigger.Operator)
		}
	default:
		report("trigger %d: unknown type %q", i, trigger.Type)
	}
}

func validateStep(i int, step models.Step, stepIDs map[string]int, steps []models.Step, report func(string, ...any)) {
	if !validStepType(step.Type) {
		report("step %q: unknown type %q", step.ID, step.Type)
	}
	if step.Agent == "" {
		report("step %q: agent is required", step.ID)
	}
	if step.Action == "" {
		report("step %q: action is required", step.ID)
	}

	for j, cond := range step.Conditions {
		if !fieldPathPattern.MatchString(cond.Field) {
			report("step %q: condition %d: malformed field path %q", step.ID, j, cond.Field)
			continue
		}
		if !validOperator(cond.Operator) {
			report("step %q: condition %d: unknown operator %q", step.ID, j, cond.Operator)
		}
		// Conditions read previously produced outputs only; a path rooted
		// at this or a later step can never resolve.
		root := strings.SplitN(cond.Field, ".", 2)[0]
		if idx, ok := stepIDs[root]; ok && idx >= i {
			report("step %q: condition %d: field %q references step %q which does not run earlier", step.ID, j, cond.Field, root)
		}
	}

	if step.OnError == nil {
		return
	}
	if retry := step.OnError.Retry; retry != nil {
		if retry.Attempts < 0 {
			report("step %q: retry attempts must be >= 0", step.ID)
		}
		if retry.DelayMs < 0 {
			report("step %q: retry delay must be >= 0", step.ID)
		}
	}
	if fb := step.OnError.Fallback; fb != "" {
		if fbIdx, ok := stepIDs[fb]; !ok {
			report("step %q: fallback references unknown step %q", step.ID, fb)
		} else if fb == step.ID {
			report("step %q: fallback references itself", step.ID)
		} else if steps[fbIdx].HumanApprovalRequired {
			// A gated step cannot resolve a failure without a decision.
			report("step %q: fallback references approval-gated step %q", step.ID, fb)
		}
	}
	if n := step.OnError.Notification; n != nil {
		if len(n.Recipients) == 0 {
			report("step %q: notification requires at least one recipient", step.ID)
		}
		if len(n.Channels) == 0 {
			report("step %q: notification requires at least one channel", step.ID)
		}
	}
}

// fallbackCycle walks fallback references from every step and returns the
// id where a cycle closes, or "".
func fallbackCycle(def *models.WorkflowDefinition) string {
	for _, start := range def.Steps {
		seen := map[string]bool{}
		current := &start
		for current != nil && current.OnError != nil && current.OnError.Fallback != "" {
			if seen[current.ID] {
				return current.ID
			}
			seen[current.ID] = true
			current = def.StepByID(current.OnError.Fallback)
		}
	}
	return ""
}

func validStepType(t models.StepType) bool {
	for _, valid := range models.StepTypes {
		if t == valid {
			return true
		}
	}
	return false
}

func validOperator(op string) bool {
	if op == "==" {
		return true
	}
	for _, valid := range engine.ConditionOperators {
		if op == valid {
			return true
		}
	}
	return false
}

// validThresholdOperator accepts only the numeric comparators the metric
// matcher evaluates; set operators like "in" have no meaning against a
// scalar sample.
func validThresholdOperator(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "=", "==", "!=":
		return true
	}
	return false
}
