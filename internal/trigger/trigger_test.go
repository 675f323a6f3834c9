package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowd/internal/engine"
	"flowd/internal/logging"
	"flowd/internal/repository"
	"flowd/pkg/models"
)

type noopHandler struct{}

func (noopHandler) Invoke(context.Context, engine.HandlerRequest) (map[string]any, error) {
	return map[string]any{}, nil
}

type noopSender struct{}

func (noopSender) Send(context.Context, []string, []string, map[string]any) error { return nil }

func newEvaluator(t *testing.T, defs ...*models.WorkflowDefinition) *Evaluator {
	t.Helper()
	logger := logging.NewLogger()
	store := repository.NewMemoryDefinitionStore()
	for _, def := range defs {
		require.NoError(t, store.Save(context.Background(), def))
	}

	exec := engine.NewExecutor(noopHandler{}, time.Second, logger, nil)
	dispatcher := engine.NewDispatcher(noopSender{}, logger, nil)
	eng := engine.New(repository.NewMemoryRunStore(), exec, dispatcher, logger, nil)

	ev := NewEvaluator(eng, store, logger)
	for _, def := range defs {
		require.NoError(t, ev.Register(def))
	}
	return ev
}

func defWithTrigger(id string, trg models.Trigger) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       id,
		Name:     id,
		Version:  "1.0",
		Triggers: []models.Trigger{trg},
		Steps: []models.Step{
			{ID: "noop", Name: "noop", Type: models.StepTypeExecute, Agent: "agent", Service: "svc", Action: "noop"},
		},
	}
}

func TestEventTriggerStartsRunPerSubscription(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-a", models.Trigger{Type: models.TriggerTypeEvent, Event: "incident.created"}),
		defWithTrigger("wf-b", models.Trigger{Type: models.TriggerTypeEvent, Event: "incident.created"}),
		defWithTrigger("wf-c", models.Trigger{Type: models.TriggerTypeEvent, Event: "other.event"}),
	)

	runs := ev.HandleEvent(context.Background(), "incident.created")
	require.Len(t, runs, 2)

	started := map[string]bool{}
	for _, run := range runs {
		started[run.DefinitionID] = true
		assert.Equal(t, "event:incident.created", run.TriggeredBy)
	}
	assert.True(t, started["wf-a"])
	assert.True(t, started["wf-b"])
}

func TestUnmatchedEventStartsNothing(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-a", models.Trigger{Type: models.TriggerTypeEvent, Event: "incident.created"}),
	)
	assert.Empty(t, ev.HandleEvent(context.Background(), "unrelated"))
}

func TestThresholdFiresOnlyWhenCrossed(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-cpu", models.Trigger{
			Type: models.TriggerTypeThreshold, Metric: "cpu", Operator: ">", Value: 90,
		}),
	)

	assert.Empty(t, ev.HandleMetric(context.Background(), "cpu", 85))
	assert.Empty(t, ev.HandleMetric(context.Background(), "cpu", 90))

	runs := ev.HandleMetric(context.Background(), "cpu", 95)
	require.Len(t, runs, 1)
	assert.Equal(t, "threshold:cpu", runs[0].TriggeredBy)

	// A sample for a different metric never matches.
	assert.Empty(t, ev.HandleMetric(context.Background(), "memory", 99))
}

func TestThresholdRefiresOnRepeatedSamples(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-err", models.Trigger{
			Type: models.TriggerTypeThreshold, Metric: "error_rate", Operator: ">=", Value: 0.05,
		}),
	)

	first := ev.HandleMetric(context.Background(), "error_rate", 0.07)
	second := ev.HandleMetric(context.Background(), "error_rate", 0.09)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestCrossedOperators(t *testing.T) {
	tests := []struct {
		value     float64
		operator  string
		threshold float64
		want      bool
	}{
		{95, ">", 90, true},
		{90, ">", 90, false},
		{85, "<", 90, true},
		{90, ">=", 90, true},
		{90, "<=", 90, true},
		{90, "=", 90, true},
		{90, "==", 90, true},
		{91, "!=", 90, true},
		{90, "!=", 90, false},
		{90, "~", 90, false}, // unknown operators never match
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, crossed(tc.value, tc.operator, tc.threshold),
			"%v %s %v", tc.value, tc.operator, tc.threshold)
	}
}

func TestScheduledTriggerRegistersCronEntry(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-nightly", models.Trigger{Type: models.TriggerTypeScheduled, Cron: "0 2 * * *"}),
	)
	assert.Len(t, ev.cronIDs["wf-nightly"], 1)

	ev.Unregister("wf-nightly")
	assert.Empty(t, ev.cronIDs["wf-nightly"])
}

func TestRegisterRejectsUnknownTriggerType(t *testing.T) {
	ev := newEvaluator(t)
	err := ev.Register(defWithTrigger("wf-bad", models.Trigger{Type: "webhook"}))
	assert.Error(t, err)
}

func TestUnregisterStopsEventFiring(t *testing.T) {
	ev := newEvaluator(t,
		defWithTrigger("wf-a", models.Trigger{Type: models.TriggerTypeEvent, Event: "incident.created"}),
	)

	require.Len(t, ev.HandleEvent(context.Background(), "incident.created"), 1)
	ev.Unregister("wf-a")
	assert.Empty(t, ev.HandleEvent(context.Background(), "incident.created"))
}
