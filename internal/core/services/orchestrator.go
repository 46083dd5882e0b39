package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// Orchestrator is the public facade over the orchestration core: it owns
// one Router, Cache, and MetricsCollector shared across every run, and
// spins up a fresh StateManager + Strategy per ExecuteWorkflow call.
type Orchestrator struct {
	logger     *slog.Logger
	router     *Router
	cache      *Cache
	metrics    *MetricsCollector
	dispatcher *Dispatcher
	repo       ports.RunRepository // optional; nil-safe

	mu      sync.Mutex
	runs    map[string]*StateManager // run id -> live state, retained after completion
	cancels map[string]context.CancelFunc
}

// NewOrchestrator wires the shared collaborators. repo may be nil to
// skip persisting terminal run state.
func NewOrchestrator(logger *slog.Logger, router *Router, cache *Cache, skills ports.SkillRegistry, workers map[string]ports.Worker, repo ports.RunRepository) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		router:     router,
		cache:      cache,
		metrics:    NewMetricsCollector(),
		dispatcher: NewDispatcher(logger, router, cache, skills, workers),
		repo:       repo,
		runs:       make(map[string]*StateManager),
		cancels:    make(map[string]context.CancelFunc),
	}
}

func strategyFor(logger *slog.Logger, strategy orchestration.ExecutionStrategy) (Strategy, error) {
	switch strategy {
	case orchestration.ExecutionStrategySequential:
		return SequentialStrategy{Logger: logger}, nil
	case orchestration.ExecutionStrategyParallel:
		return ParallelStrategy{Logger: logger}, nil
	case orchestration.ExecutionStrategyDAG:
		return DAGStrategy{Logger: logger}, nil
	case orchestration.ExecutionStrategyConditional:
		return ConditionalStrategy{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unresolvable execution strategy %q", strategy)
	}
}

// ExecuteWorkflow validates wf, resolves its strategy (recommending one
// when Strategy is "auto"), and runs it to completion or cancellation,
// returning the final WorkflowState. The context governs the whole run;
// cancelling it propagates through every suspension point in the
// Dispatcher and Router. progressCallback, when non-nil, is invoked
// with a read-only snapshot after every task and workflow state
// transition; a nil callback is a no-op.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf orchestration.Workflow, progressCallback ProgressCallback) (orchestration.WorkflowState, error) {
	wf = orchestration.NormalizeWorkflow(wf)
	if err := orchestration.ValidateWorkflow(wf); err != nil {
		return orchestration.WorkflowState{}, err
	}

	resolved := ResolveStrategy(wf)
	strategy, err := strategyFor(o.logger, resolved)
	if err != nil {
		return orchestration.WorkflowState{}, orchestration.NewOrchestrationError(orchestration.ErrorKindValidation, err.Error())
	}

	runID := orchestration.NewWorkflowRunID()
	sm := NewStateManager(o.logger, wf, runID)
	sm.SetProgressCallback(progressCallback)

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.runs[runID] = sm
	o.cancels[runID] = cancel
	o.mu.Unlock()
	defer cancel()

	sm.StartWorkflow()
	o.logger.Info("orchestration: workflow started", "workflow_id", wf.ID, "run_id", runID, "strategy", resolved)

	if err := strategy.Run(runCtx, wf, o.dispatcher, sm); err != nil {
		sm.FailWorkflow(err.Error())
	} else {
		switch {
		case runCtx.Err() != nil:
			sm.CancelWorkflow()
		case sm.HasFailedTasks() && !wf.ContinueOnFailure:
			sm.FailWorkflow("one or more tasks failed")
		default:
			sm.CompleteWorkflow()
		}
	}

	final := sm.Snapshot()
	o.metrics.RecordWorkflow(wf, final)

	if o.repo != nil {
		if err := o.repo.SaveRun(ctx, &final); err != nil {
			o.logger.Warn("orchestration: failed to persist run", "run_id", runID, "error", err)
		}
	}

	o.logger.Info("orchestration: workflow finished", "workflow_id", wf.ID, "run_id", runID, "status", final.Status)
	return final, nil
}

// ExecuteTask runs a single task in isolation, outside any workflow
// scheduling policy — useful for ad hoc invocation and tests. Its
// dependencies (if any) are treated as already-satisfied with no output.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task orchestration.Task) orchestration.TaskResult {
	wf := orchestration.Workflow{
		ID:               "adhoc",
		Name:             "adhoc",
		Tasks:            []orchestration.Task{task},
		Strategy:         orchestration.ExecutionStrategySequential,
		MaxParallelTasks: 1,
	}
	sm := NewStateManager(o.logger, wf, orchestration.NewWorkflowRunID())
	o.dispatcher.Run(ctx, wf, task, sm)
	return sm.Snapshot().TaskResults[task.ID]
}

// CancelWorkflow requests cancellation of an in-flight run. It is a
// no-op if the run id is unknown or already finished.
func (o *Orchestrator) CancelWorkflow(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// GetWorkflowState returns a snapshot of a tracked run's current state.
func (o *Orchestrator) GetWorkflowState(runID string) (orchestration.WorkflowState, bool) {
	o.mu.Lock()
	sm, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return orchestration.WorkflowState{}, false
	}
	return sm.Snapshot(), true
}

// GetWorkflowProgress returns a tracked run's progress counters.
func (o *Orchestrator) GetWorkflowProgress(runID string) (orchestration.Progress, bool) {
	o.mu.Lock()
	sm, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return orchestration.Progress{}, false
	}
	return sm.Progress(), true
}

// GetWorkflowMetrics returns the recorded WorkflowMetrics for a finished run.
func (o *Orchestrator) GetWorkflowMetrics(runID string) (WorkflowMetrics, bool) {
	return o.metrics.GetWorkflowMetrics(runID)
}

// GetAggregateStats returns cross-run aggregate metrics.
func (o *Orchestrator) GetAggregateStats() AggregateStats {
	return o.metrics.GetAggregateStats()
}

// CacheStats exposes the shared cache's operational counters.
func (o *Orchestrator) CacheStats() CacheStats {
	if o.cache == nil {
		return CacheStats{}
	}
	return o.cache.Stats()
}

// InvalidateTaskCache clears every cache entry derived from a given task id.
func (o *Orchestrator) InvalidateTaskCache(taskID string) int {
	if o.cache == nil {
		return 0
	}
	return o.cache.Invalidate(taskID)
}

// ClearCache empties the shared cache entirely.
func (o *Orchestrator) ClearCache() {
	if o.cache == nil {
		return
	}
	o.cache.Clear()
}

// Visualize renders a tracked or completed run's dependency graph.
func (o *Orchestrator) Visualize(wf orchestration.Workflow, runID string, format VisualizationFormat, includeMetrics bool) (string, error) {
	var state *orchestration.WorkflowState
	if runID != "" {
		if snap, ok := o.GetWorkflowState(runID); ok {
			state = &snap
		}
	}
	return NewVisualizer(wf, state).Render(format, includeMetrics)
}
