// Package trigger matches incoming events, cron ticks, and metric
// samples against registered workflow definitions and spawns runs.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"flowd/internal/engine"
	"flowd/internal/logging"
	"flowd/internal/repository"
	"flowd/pkg/models"
)

// Evaluator owns the trigger subscriptions of all registered definitions.
// Each firing allocates a fresh pending run with an empty execution
// context and hands it to the engine; repeated threshold crossings
// deliberately create repeated runs.
type Evaluator struct {
	eng    *engine.Engine
	defs   repository.DefinitionStore
	logger *logging.Logger
	cron   *cron.Cron

	mu         sync.RWMutex
	events     map[string][]string // event name -> definition ids
	thresholds map[string][]thresholdSub
	cronIDs    map[string][]cron.EntryID // definition id -> schedule entries
}

type thresholdSub struct {
	definitionID string
	operator     string
	value        float64
}

// NewEvaluator creates a new Evaluator. Start must be called before
// scheduled triggers fire.
func NewEvaluator(eng *engine.Engine, defs repository.DefinitionStore, logger *logging.Logger) *Evaluator {
	return &Evaluator{
		eng:        eng,
		defs:       defs,
		logger:     logger,
		cron:       cron.New(),
		events:     make(map[string][]string),
		thresholds: make(map[string][]thresholdSub),
		cronIDs:    make(map[string][]cron.EntryID),
	}
}

// Start begins delivering cron ticks.
func (e *Evaluator) Start() { e.cron.Start() }

// Stop stops the cron scheduler; in-flight runs keep executing.
func (e *Evaluator) Stop() { e.cron.Stop() }

// Register subscribes a validated definition's triggers.
func (e *Evaluator) Register(def *models.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, trg := range def.Triggers {
		switch trg.Type {
		case models.TriggerTypeEvent:
			e.events[trg.Event] = append(e.events[trg.Event], def.ID)
		case models.TriggerTypeThreshold:
			e.thresholds[trg.Metric] = append(e.thresholds[trg.Metric], thresholdSub{
				definitionID: def.ID,
				operator:     trg.Operator,
				value:        trg.Value,
			})
		case models.TriggerTypeScheduled:
			defID := def.ID
			expr := trg.Cron
			entryID, err := e.cron.AddFunc(expr, func() {
				e.fire(context.Background(), defID, "schedule:"+expr)
			})
			if err != nil {
				return fmt.Errorf("failed to schedule trigger for %q: %w", def.ID, err)
			}
			e.cronIDs[def.ID] = append(e.cronIDs[def.ID], entryID)
		default:
			return fmt.Errorf("definition %q: unknown trigger type %q", def.ID, trg.Type)
		}
	}
	e.logger.Info("triggers registered", "definition", def.ID, "count", len(def.Triggers))
	return nil
}

// Unregister drops a definition's subscriptions.
func (e *Evaluator) Unregister(definitionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, ids := range e.events {
		e.events[name] = remove(ids, definitionID)
	}
	for metric, subs := range e.thresholds {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.definitionID != definitionID {
				kept = append(kept, sub)
			}
		}
		e.thresholds[metric] = kept
	}
	for _, id := range e.cronIDs[definitionID] {
		e.cron.Remove(id)
	}
	delete(e.cronIDs, definitionID)
}

// HandleEvent fires a run for every definition subscribed to the named
// event and returns the runs it started.
func (e *Evaluator) HandleEvent(ctx context.Context, name string) []*models.WorkflowRun {
	e.mu.RLock()
	ids := append([]string(nil), e.events[name]...)
	e.mu.RUnlock()

	var runs []*models.WorkflowRun
	for _, defID := range ids {
		if run := e.fire(ctx, defID, "event:"+name); run != nil {
			runs = append(runs, run)
		}
	}
	return runs
}

// HandleMetric compares a metric sample against every threshold
// subscription and fires a run per satisfied comparison.
func (e *Evaluator) HandleMetric(ctx context.Context, metric string, value float64) []*models.WorkflowRun {
	e.mu.RLock()
	subs := append([]thresholdSub(nil), e.thresholds[metric]...)
	e.mu.RUnlock()

	var runs []*models.WorkflowRun
	for _, sub := range subs {
		if !crossed(value, sub.operator, sub.value) {
			continue
		}
		if run := e.fire(ctx, sub.definitionID, "threshold:"+metric); run != nil {
			runs = append(runs, run)
		}
	}
	return runs
}

func (e *Evaluator) fire(ctx context.Context, definitionID, triggeredBy string) *models.WorkflowRun {
	def, err := e.defs.Get(ctx, definitionID)
	if err != nil {
		e.logger.Error("trigger fired for unknown definition", "definition", definitionID, "error", err)
		return nil
	}
	run, err := e.eng.StartRun(ctx, def, triggeredBy)
	if err != nil {
		e.logger.Error("failed to start run", "definition", definitionID, "error", err)
		return nil
	}
	e.logger.Info("trigger fired", "definition", definitionID, "run", run.ID, "triggered_by", triggeredBy)
	return run
}

func crossed(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "=", "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

func remove(ids []string, id string) []string {
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return kept
}
