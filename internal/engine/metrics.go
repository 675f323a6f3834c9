package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"flowd/pkg/models"
)

// Metrics counts engine activity. A nil *Metrics is valid and records
// nothing, which keeps tests free of meter setup.
type Metrics struct {
	runsStarted   metric.Int64Counter
	runsFinished  metric.Int64Counter
	stepsFinished metric.Int64Counter
	retries       metric.Int64Counter
	escalations   metric.Int64Counter
}

// NewMetrics registers the engine counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("flowd/engine")
	m := &Metrics{}
	var err error
	if m.runsStarted, err = meter.Int64Counter("flowd.runs.started"); err != nil {
		return nil, err
	}
	if m.runsFinished, err = meter.Int64Counter("flowd.runs.finished"); err != nil {
		return nil, err
	}
	if m.stepsFinished, err = meter.Int64Counter("flowd.steps.finished"); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("flowd.steps.retries"); err != nil {
		return nil, err
	}
	if m.escalations, err = meter.Int64Counter("flowd.escalations"); err != nil {
		return nil, err
	}
	return m, nil
}

// AddRunStarted records a newly created run.
func (m *Metrics) AddRunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1)
}

// AddRunFinished records a run reaching a terminal status.
func (m *Metrics) AddRunFinished(ctx context.Context, status models.RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// AddStepFinished records a step reaching a terminal per-step status.
func (m *Metrics) AddStepFinished(ctx context.Context, status models.StepStatus) {
	if m == nil {
		return
	}
	m.stepsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// AddRetry records one handler re-invocation.
func (m *Metrics) AddRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}

// AddEscalation records one dispatched escalation.
func (m *Metrics) AddEscalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.escalations.Add(ctx, 1)
}
