package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// slowFailingWorker fails after a delay, used to prove a conditional
// gate waits for every id its condition references to go terminal
// before deciding, even when that id isn't a declared dependency.
type slowFailingWorker struct{ delay time.Duration }

func (w slowFailingWorker) Execute(ctx context.Context, req ports.WorkRequest) (orchestration.Output, error) {
	select {
	case <-time.After(w.delay):
		return orchestration.Output{}, errors.New("boom")
	case <-ctx.Done():
		return orchestration.Output{}, ctx.Err()
	}
}

func newDispatcherWithWorker(worker ports.Worker) *Dispatcher {
	return newTestDispatcher(map[string]ports.Worker{"general-purpose": worker})
}

func runStrategy(t *testing.T, strategy Strategy, wf orchestration.Workflow, dispatcher *Dispatcher, timeout time.Duration) *StateManager {
	t.Helper()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.StartWorkflow()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := strategy.Run(ctx, wf, dispatcher, sm)
	require.NoError(t, err)
	return sm
}

func TestSequentialStrategyRunsChainInOrder(t *testing.T) {
	d := newDispatcherWithWorker(EchoWorker{})
	wf := orchestration.Workflow{
		ID:       "wf",
		Strategy: orchestration.ExecutionStrategySequential,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}},
			{ID: "c", WorkerType: "general-purpose", DependsOn: []string{"b"}},
		},
	}
	sm := runStrategy(t, SequentialStrategy{Logger: testLogger()}, wf, d, time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["a"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["b"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["c"])
}

func TestSequentialStrategyStopsOnFailureWithoutContinueOnFailure(t *testing.T) {
	d := newDispatcherWithWorker(FailingWorker{})
	wf := orchestration.Workflow{
		ID:       "wf",
		Strategy: orchestration.ExecutionStrategySequential,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}},
		},
	}
	sm := runStrategy(t, SequentialStrategy{Logger: testLogger()}, wf, d, time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["a"])
	assert.True(t, snap["b"].IsTerminal())
}

func TestParallelStrategyRunsAllIndependentTasks(t *testing.T) {
	d := newDispatcherWithWorker(EchoWorker{})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyParallel,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose"},
			{ID: "c", WorkerType: "general-purpose"},
		},
	}
	sm := runStrategy(t, ParallelStrategy{Logger: testLogger()}, wf, d, time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["a"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["b"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["c"])
}

func TestDAGStrategyRunsDiamondToCompletion(t *testing.T) {
	d := newDispatcherWithWorker(EchoWorker{})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyDAG,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}},
			{ID: "c", WorkerType: "general-purpose", DependsOn: []string{"a"}},
			{ID: "d", WorkerType: "general-purpose", DependsOn: []string{"b", "c"}},
		},
	}
	sm := runStrategy(t, DAGStrategy{Logger: testLogger()}, wf, d, 2*time.Second)

	snap := sm.StatusSnapshot()
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, orchestration.TaskStatusCompleted, snap[id], "task %s", id)
	}
	assert.True(t, sm.IsWorkflowComplete())
}

func TestDAGStrategyCascadesFailureToDependent(t *testing.T) {
	d := newDispatcherWithWorker(FailingWorker{})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyDAG,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}},
		},
	}
	sm := runStrategy(t, DAGStrategy{Logger: testLogger()}, wf, d, 2*time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["a"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["b"])
}

func TestConditionalStrategySkipsTaskWhenConditionUnmet(t *testing.T) {
	d := newDispatcherWithWorker(FailingWorker{})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyConditional,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}, Condition: "a"},
		},
	}
	sm := runStrategy(t, ConditionalStrategy{Logger: testLogger()}, wf, d, 2*time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["a"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["b"])
}

func TestConditionalStrategyRunsTaskWhenConditionMet(t *testing.T) {
	d := newDispatcherWithWorker(EchoWorker{})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyConditional,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}, Condition: "a"},
		},
	}
	sm := runStrategy(t, ConditionalStrategy{Logger: testLogger()}, wf, d, 2*time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["a"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["b"])
}

func TestConditionalStrategyWaitsForConditionReferenceEvenWithoutDependsOn(t *testing.T) {
	router := NewRouter(testLogger(), []WorkerRouting{
		{WorkerType: "general-purpose", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 5},
		{WorkerType: "slow", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 5},
	})
	cache := NewCache(testLogger(), CacheConfig{Strategy: CacheStrategyMemory, MaxSize: 100}, nil)
	d := NewDispatcher(testLogger(), router, cache, nil, map[string]ports.Worker{
		"slow":            slowFailingWorker{delay: 40 * time.Millisecond},
		"general-purpose": EchoWorker{},
	})
	wf := orchestration.Workflow{
		ID:               "wf",
		Strategy:         orchestration.ExecutionStrategyConditional,
		MaxParallelTasks: 4,
		Tasks: []orchestration.Task{
			{ID: "check", WorkerType: "slow"},
			{ID: "fix", WorkerType: "general-purpose", Condition: "NOT check"},
		},
	}
	sm := runStrategy(t, ConditionalStrategy{Logger: testLogger()}, wf, d, 2*time.Second)

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["check"])
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["fix"])

	results := sm.Snapshot().TaskResults
	require.NotNil(t, results["check"].CompletedAt)
	require.NotNil(t, results["fix"].StartedAt)
	assert.False(t, results["fix"].StartedAt.Before(*results["check"].CompletedAt),
		"fix must not start before its condition's referenced task (check) is terminal")
}

func TestSequentialStrategyCancelledContextCancelsRemaining(t *testing.T) {
	d := newDispatcherWithWorker(slowWorker{delay: time.Second})
	wf := orchestration.Workflow{
		ID:       "wf",
		Strategy: orchestration.ExecutionStrategySequential,
		Tasks: []orchestration.Task{
			{ID: "a", WorkerType: "general-purpose"},
			{ID: "b", WorkerType: "general-purpose", DependsOn: []string{"a"}},
		},
	}
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.StartWorkflow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = SequentialStrategy{Logger: testLogger()}.Run(ctx, wf, d, sm)

	snap := sm.StatusSnapshot()
	assert.True(t, snap["a"].IsTerminal())
	assert.True(t, snap["b"].IsTerminal())
}
