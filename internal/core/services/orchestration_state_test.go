package services

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func diamondWorkflow() orchestration.Workflow {
	return orchestration.Workflow{
		ID:   "wf-diamond",
		Name: "diamond",
		Tasks: []orchestration.Task{
			{ID: "a", Priority: 1},
			{ID: "b", Priority: 1, DependsOn: []string{"a"}},
			{ID: "c", Priority: 1, DependsOn: []string{"a"}},
			{ID: "d", Priority: 1, DependsOn: []string{"b", "c"}},
		},
		Strategy:         orchestration.ExecutionStrategyDAG,
		MaxParallelTasks: 4,
	}
}

func TestStateManagerInitializesAllTasksPending(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	snap := sm.StatusSnapshot()
	for _, task := range wf.Tasks {
		assert.Equal(t, orchestration.TaskStatusPending, snap[task.ID])
	}
}

func TestStateManagerReadyTasksOnlyRootAtStart(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	assert.Equal(t, []string{"a"}, sm.ReadyTasks())
}

func TestStateManagerReadySetAfterCompletion(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkCompleted("a", orchestration.Output{Kind: orchestration.OutputKindString, Text: "done"})

	ready := sm.ReadyTasks()
	assert.ElementsMatch(t, []string{"b", "c"}, ready)
}

func TestStateManagerCascadeSkipsOnFailure(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkFailed("a", &orchestration.TaskError{Kind: orchestration.ErrorKindTaskFailed, Message: "boom"})

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["a"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["b"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["c"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["d"])
	assert.True(t, sm.IsWorkflowComplete())
	assert.True(t, sm.HasFailedTasks())
}

func TestStateManagerCascadeSkipsOnCancellation(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkCancelled("a")

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusCancelled, snap["a"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["b"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["c"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["d"])
}

func conditionalWorkflow() orchestration.Workflow {
	return orchestration.Workflow{
		ID:   "wf-conditional",
		Name: "conditional",
		Tasks: []orchestration.Task{
			{ID: "a", Priority: 1},
			{ID: "fallback", Priority: 1, DependsOn: []string{"a"}, Condition: "NOT a"},
			{ID: "happy", Priority: 1, DependsOn: []string{"a"}, Condition: "a"},
		},
		Strategy:         orchestration.ExecutionStrategyConditional,
		MaxParallelTasks: 4,
	}
}

func TestStateManagerCascadeSkipSparesDependentWhoseConditionStillHolds(t *testing.T) {
	wf := conditionalWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkFailed("a", &orchestration.TaskError{Kind: orchestration.ErrorKindTaskFailed, Message: "boom"})

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusFailed, snap["a"])
	assert.Equal(t, orchestration.TaskStatusPending, snap["fallback"])
	assert.Equal(t, orchestration.TaskStatusSkipped, snap["happy"])
}

func TestStateManagerDepsSatisfiedForConditionalTaskAllowsTerminalNonCompletedDependency(t *testing.T) {
	wf := conditionalWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkFailed("a", &orchestration.TaskError{Kind: orchestration.ErrorKindTaskFailed, Message: "boom"})

	assert.Contains(t, sm.ReadyTasks(), "fallback")
}

func TestStateManagerMarkCancelledIsNoOpOnTerminalTask(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkCompleted("a", orchestration.Output{Kind: orchestration.OutputKindString})
	sm.MarkCancelled("a")

	snap := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusCompleted, snap["a"])
}

func TestStateManagerProgressReflectsCompletion(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.MarkRunning("a", "worker-1")
	sm.MarkCompleted("a", orchestration.Output{Kind: orchestration.OutputKindString})

	progress := sm.Progress()
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 1, progress.ByStatus[orchestration.TaskStatusCompleted])
	assert.Equal(t, 25.0, progress.PercentDone)
}

func TestStateManagerDependencyChainIsTransitive(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	chain := sm.DependencyChain("d")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, chain)
}

func TestStateManagerWorkflowLifecycleTransitions(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")

	sm.StartWorkflow()
	require.Equal(t, orchestration.WorkflowRunRunning, sm.Snapshot().Status)

	sm.CompleteWorkflow()
	snap := sm.Snapshot()
	assert.Equal(t, orchestration.WorkflowRunCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
}

func TestStateManagerFailWorkflowRecordsReason(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	sm.StartWorkflow()
	sm.FailWorkflow("task a failed")

	snap := sm.Snapshot()
	assert.Equal(t, orchestration.WorkflowRunFailed, snap.Status)
	assert.Equal(t, "task a failed", snap.FailureReason)
}

func TestStateManagerSnapshotIsIndependentCopy(t *testing.T) {
	wf := diamondWorkflow()
	sm := NewStateManager(testLogger(), wf, "run-1")
	snap := sm.Snapshot()
	snap.TaskStatus["a"] = orchestration.TaskStatusCompleted

	fresh := sm.StatusSnapshot()
	assert.Equal(t, orchestration.TaskStatusPending, fresh["a"])
}
