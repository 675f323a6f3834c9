// Package models defines the domain models for the workflow engine.
package models

// TriggerType discriminates the trigger variants of a workflow definition.
type TriggerType string

const (
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeThreshold TriggerType = "threshold"
)

// Trigger describes one way a workflow definition can be fired.
// Exactly one variant is populated, selected by Type: Event for event
// triggers, Cron for scheduled triggers, Metric/Operator/Value for
// threshold triggers.
type Trigger struct {
	Type     TriggerType `json:"type"`
	Event    string      `json:"event,omitempty"`
	Cron     string      `json:"cron,omitempty"`
	Metric   string      `json:"metric,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    float64     `json:"value,omitempty"`
}

// StepType classifies a step's role within a workflow.
type StepType string

const (
	StepTypeDetect  StepType = "detect"
	StepTypeAnalyze StepType = "analyze"
	StepTypeDecide  StepType = "decide"
	StepTypeExecute StepType = "execute"
	StepTypeVerify  StepType = "verify"
	StepTypeReport  StepType = "report"
)

// StepTypes lists the valid step types.
var StepTypes = []StepType{
	StepTypeDetect,
	StepTypeAnalyze,
	StepTypeDecide,
	StepTypeExecute,
	StepTypeVerify,
	StepTypeReport,
}

// Condition gates a step on a previously produced output. Field is a
// dotted path into the execution context (e.g. "detect.anomalies.detected").
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// RetryPolicy re-invokes a failed handler up to Attempts times with a
// fixed delay of DelayMs between attempts.
type RetryPolicy struct {
	Attempts int `json:"attempts"`
	DelayMs  int `json:"delayMs"`
}

// NotificationPolicy names who gets alerted and over which channels when a
// step fails terminally.
type NotificationPolicy struct {
	Recipients []string `json:"recipients"`
	Channels   []string `json:"channels"`
}

// ErrorHandling declares what happens after a step's handler fails.
type ErrorHandling struct {
	Retry        *RetryPolicy        `json:"retry,omitempty"`
	Escalate     bool                `json:"escalate,omitempty"`
	Notification *NotificationPolicy `json:"notification,omitempty"`
	Fallback     string              `json:"fallback,omitempty"`
}

// Step is one unit of work in a workflow, bound to an external
// agent/service/action. Conditions combine with AND semantics.
type Step struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Type                  StepType       `json:"type"`
	Agent                 string         `json:"agent"`
	Service               string         `json:"service"`
	Action                string         `json:"action"`
	Parameters            map[string]any `json:"parameters,omitempty"`
	Outputs               []string       `json:"outputs,omitempty"`
	Conditions            []Condition    `json:"conditions,omitempty"`
	HumanApprovalRequired bool           `json:"humanApprovalRequired,omitempty"`
	OnError               *ErrorHandling `json:"onError,omitempty"`
}

// Metadata carries operational attributes of a definition.
type Metadata struct {
	RequiredServices []string `json:"requiredServices,omitempty"`
	RequiredAgents   []string `json:"requiredAgents,omitempty"`
	Criticality      string   `json:"criticality,omitempty"`
	ComplianceTags   []string `json:"complianceTags,omitempty"`
}

// WorkflowDefinition is a declarative multi-step, multi-agent business
// process. Definitions are validated at load time and read-only thereafter;
// steps execute in declared array order.
type WorkflowDefinition struct {
	ID        string    `json:"id"`
	UseCaseID string    `json:"useCaseId"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Steps     []Step    `json:"steps"`
	Triggers  []Trigger `json:"triggers"`
	Metadata  Metadata  `json:"metadata"`
}

// StepByID returns the step with the given id, or nil.
func (d *WorkflowDefinition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}
