package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// ProgressCallback receives a read-only snapshot after every state
// transition on a run. A callback that panics is recovered and logged;
// it never interrupts the transition that triggered it.
type ProgressCallback func(orchestration.WorkflowState)

// StateManager owns the authoritative per-task status map for one
// workflow run. All mutations are serialized behind a single mutex;
// other components only ever see snapshots.
type StateManager struct {
	mu     sync.Mutex
	logger *slog.Logger

	workflow orchestration.Workflow
	state    orchestration.WorkflowState

	dependents   map[string][]string // task id -> ids that depend on it
	onTransition ProgressCallback
}

// NewStateManager builds a StateManager for a validated workflow and
// initializes every task to pending.
func NewStateManager(logger *slog.Logger, wf orchestration.Workflow, runID string) *StateManager {
	sm := &StateManager{
		logger:   logger,
		workflow: wf,
		state: orchestration.WorkflowState{
			WorkflowID:  wf.ID,
			RunID:       runID,
			Status:      orchestration.WorkflowRunPending,
			TaskStatus:  make(map[string]orchestration.TaskStatus, len(wf.Tasks)),
			TaskResults: make(map[string]orchestration.TaskResult, len(wf.Tasks)),
		},
		dependents: make(map[string][]string, len(wf.Tasks)),
	}
	for _, t := range wf.Tasks {
		sm.state.TaskStatus[t.ID] = orchestration.TaskStatusPending
	}
	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			sm.dependents[dep] = append(sm.dependents[dep], t.ID)
		}
	}
	return sm
}

// SetProgressCallback registers fn to be invoked with a read-only
// snapshot after every subsequent state transition. Passing nil
// disables the callback.
func (sm *StateManager) SetProgressCallback(fn ProgressCallback) {
	sm.mu.Lock()
	sm.onTransition = fn
	sm.mu.Unlock()
}

// notify invokes the registered progress callback, if any, with the
// current snapshot. Panics from the callback are recovered and logged
// rather than propagated to the transition that triggered them.
func (sm *StateManager) notify() {
	sm.mu.Lock()
	cb := sm.onTransition
	sm.mu.Unlock()
	if cb == nil {
		return
	}
	snap := sm.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			sm.logger.Error("orchestration: progress callback panicked", "run_id", snap.RunID, "panic", r)
		}
	}()
	cb(snap)
}

func (sm *StateManager) taskByID(id string) (orchestration.Task, bool) {
	for _, t := range sm.workflow.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return orchestration.Task{}, false
}

func (sm *StateManager) appendEvent(taskID, kind, detail string) {
	sm.state.Events = append(sm.state.Events, orchestration.StateEvent{
		Timestamp: time.Now(),
		TaskID:    taskID,
		Kind:      kind,
		Detail:    detail,
	})
}

// StartWorkflow transitions the run to running and stamps StartedAt.
func (sm *StateManager) StartWorkflow() {
	sm.mu.Lock()
	now := time.Now()
	sm.state.Status = orchestration.WorkflowRunRunning
	sm.state.StartedAt = &now
	sm.appendEvent("", "workflow_started", "")
	sm.mu.Unlock()
	sm.notify()
}

// CompleteWorkflow marks the run completed.
func (sm *StateManager) CompleteWorkflow() {
	sm.mu.Lock()
	now := time.Now()
	sm.state.Status = orchestration.WorkflowRunCompleted
	sm.state.CompletedAt = &now
	sm.appendEvent("", "workflow_completed", "")
	sm.mu.Unlock()
	sm.notify()
}

// FailWorkflow marks the run failed with a reason.
func (sm *StateManager) FailWorkflow(reason string) {
	sm.mu.Lock()
	now := time.Now()
	sm.state.Status = orchestration.WorkflowRunFailed
	sm.state.CompletedAt = &now
	sm.state.FailureReason = reason
	sm.appendEvent("", "workflow_failed", reason)
	sm.mu.Unlock()
	sm.notify()
}

// CancelWorkflow marks the run cancelled.
func (sm *StateManager) CancelWorkflow() {
	sm.mu.Lock()
	now := time.Now()
	sm.state.Status = orchestration.WorkflowRunCancelled
	sm.state.CompletedAt = &now
	sm.appendEvent("", "workflow_cancelled", "")
	sm.mu.Unlock()
	sm.notify()
}

// ReadyTasks returns ids of every task that is pending and whose
// dependencies are all completed (all terminal, for a task with its own
// condition under the conditional strategy).
func (sm *StateManager) ReadyTasks() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var ready []string
	for _, t := range sm.workflow.Tasks {
		if sm.state.TaskStatus[t.ID] != orchestration.TaskStatusPending {
			continue
		}
		if sm.depsSatisfiedLocked(t) {
			ready = append(ready, t.ID)
		}
	}
	return ready
}

func (sm *StateManager) depsSatisfiedLocked(t orchestration.Task) bool {
	// A conditional task's own condition may reference a dependency that
	// failed or was skipped (e.g. "NOT taskA"), so its dependencies only
	// need to have finished, not necessarily succeeded; the conditional
	// strategy's gate decides whether it actually runs.
	requireCompleted := t.Condition == "" || sm.workflow.Strategy != orchestration.ExecutionStrategyConditional
	for _, dep := range t.DependsOn {
		status := sm.state.TaskStatus[dep]
		if requireCompleted {
			if status != orchestration.TaskStatusCompleted {
				return false
			}
			continue
		}
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// MarkRunning transitions a task to running under the given worker id.
func (sm *StateManager) MarkRunning(id, workerID string) {
	sm.mu.Lock()
	sm.state.TaskStatus[id] = orchestration.TaskStatusRunning
	now := time.Now()
	result := sm.state.TaskResults[id]
	result.TaskID = id
	result.Status = orchestration.TaskStatusRunning
	result.WorkerID = workerID
	if result.StartedAt == nil {
		result.StartedAt = &now
	}
	result.Attempts++
	sm.state.TaskResults[id] = result
	sm.appendEvent(id, "task_running", fmt.Sprintf("attempt %d, worker %s", result.Attempts, workerID))
	sm.mu.Unlock()
	sm.notify()
}

// MarkRetry records a retry without changing the running status
// (running -> running).
func (sm *StateManager) MarkRetry(id string) {
	sm.mu.Lock()
	sm.appendEvent(id, "task_retry", "")
	sm.mu.Unlock()
	sm.notify()
}

// MarkCompleted finalizes a task as completed with its output.
func (sm *StateManager) MarkCompleted(id string, output orchestration.Output) {
	sm.mu.Lock()
	now := time.Now()
	sm.state.TaskStatus[id] = orchestration.TaskStatusCompleted
	result := sm.state.TaskResults[id]
	result.TaskID = id
	result.Status = orchestration.TaskStatusCompleted
	result.CompletedAt = &now
	result.Output = &output
	sm.state.TaskResults[id] = result
	sm.appendEvent(id, "task_completed", "")
	sm.mu.Unlock()
	sm.notify()
}

// MarkFailed finalizes a task as failed and skips its direct dependents
// with dependency_failed (see cascadeSkip); their own dependents are then
// skipped with dependency_skipped.
func (sm *StateManager) MarkFailed(id string, taskErr *orchestration.TaskError) {
	sm.mu.Lock()
	now := time.Now()
	sm.state.TaskStatus[id] = orchestration.TaskStatusFailed
	result := sm.state.TaskResults[id]
	result.TaskID = id
	result.Status = orchestration.TaskStatusFailed
	result.CompletedAt = &now
	result.Error = taskErr
	sm.state.TaskResults[id] = result
	sm.appendEvent(id, "task_failed", taskErr.Message)
	sm.mu.Unlock()
	sm.notify()

	sm.cascadeSkip(id, "dependency_failed")
}

// MarkSkipped finalizes a task as skipped with a structured reason and
// cascades dependency_skipped to its dependents.
func (sm *StateManager) MarkSkipped(id, reason string) {
	sm.mu.Lock()
	now := time.Now()
	sm.state.TaskStatus[id] = orchestration.TaskStatusSkipped
	result := sm.state.TaskResults[id]
	result.TaskID = id
	result.Status = orchestration.TaskStatusSkipped
	result.CompletedAt = &now
	result.Reason = reason
	sm.state.TaskResults[id] = result
	sm.appendEvent(id, "task_skipped", reason)
	sm.mu.Unlock()
	sm.notify()

	sm.cascadeSkip(id, "dependency_skipped")
}

// MarkCancelled finalizes a task as cancelled and skips its direct
// dependents with dependency_failed (see cascadeSkip). It is a no-op on a
// task that is already terminal.
func (sm *StateManager) MarkCancelled(id string) {
	sm.mu.Lock()
	now := time.Now()
	if sm.state.TaskStatus[id].IsTerminal() {
		sm.mu.Unlock()
		return
	}
	sm.state.TaskStatus[id] = orchestration.TaskStatusCancelled
	result := sm.state.TaskResults[id]
	result.TaskID = id
	result.Status = orchestration.TaskStatusCancelled
	result.CompletedAt = &now
	sm.state.TaskResults[id] = result
	sm.appendEvent(id, "task_cancelled", "")
	sm.mu.Unlock()
	sm.notify()

	sm.cascadeSkip(id, "dependency_failed")
}

// cascadeSkip marks every direct dependent of id as skipped, then recurses
// into that dependent's own dependents. A direct dependent running under
// the conditional strategy is spared when its own condition already
// evaluates true against the current status snapshot (e.g. "NOT taskA"
// after taskA failed) — it is left pending instead, for the conditional
// strategy's ready-set loop to dispatch or gate-skip on its own terms.
func (sm *StateManager) cascadeSkip(id, reason string) {
	sm.mu.Lock()
	toSkip := append([]string(nil), sm.dependents[id]...)
	strategy := sm.workflow.Strategy
	snapshot := make(map[string]orchestration.TaskStatus, len(sm.state.TaskStatus))
	for k, v := range sm.state.TaskStatus {
		snapshot[k] = v
	}
	sm.mu.Unlock()

	for _, dep := range toSkip {
		sm.mu.Lock()
		status := sm.state.TaskStatus[dep]
		sm.mu.Unlock()
		if status.IsTerminal() {
			continue
		}

		if strategy == orchestration.ExecutionStrategyConditional {
			if task, ok := sm.taskByID(dep); ok && task.Condition != "" {
				if node, err := orchestration.ParseCondition(task.Condition); err == nil && node.Eval(snapshot) {
					continue
				}
			}
		}

		sm.MarkSkipped(dep, reason)
	}
}

// IsWorkflowComplete reports whether every task has reached a terminal status.
func (sm *StateManager) IsWorkflowComplete() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, status := range sm.state.TaskStatus {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasFailedTasks reports whether any task ended failed or cancelled.
func (sm *StateManager) HasFailedTasks() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, status := range sm.state.TaskStatus {
		if status == orchestration.TaskStatusFailed || status == orchestration.TaskStatusCancelled {
			return true
		}
	}
	return false
}

// RunningCount returns the number of tasks currently running.
func (sm *StateManager) RunningCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for _, status := range sm.state.TaskStatus {
		if status == orchestration.TaskStatusRunning {
			n++
		}
	}
	return n
}

// Progress returns counts-by-status and a completion percentage.
func (sm *StateManager) Progress() orchestration.Progress {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	byStatus := make(map[orchestration.TaskStatus]int)
	done := 0
	for _, status := range sm.state.TaskStatus {
		byStatus[status]++
		if status.IsTerminal() {
			done++
		}
	}
	total := len(sm.state.TaskStatus)
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100.0
	}
	return orchestration.Progress{Total: total, ByStatus: byStatus, PercentDone: pct}
}

// DependencyChain returns the full transitive dependency set of a task,
// supplemented from original_source/.../state.py: get_dependency_chain.
func (sm *StateManager) DependencyChain(taskID string) []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	visited := make(map[string]bool)
	var chain []string
	var visit func(id string)
	visit = func(id string) {
		t, ok := sm.taskByID(id)
		if !ok {
			return
		}
		for _, dep := range t.DependsOn {
			if !visited[dep] {
				visited[dep] = true
				chain = append(chain, dep)
				visit(dep)
			}
		}
	}
	visit(taskID)
	return chain
}

// Snapshot returns a read-only deep-enough copy of the current state,
// safe for callers (progress callbacks, the visualizer) to retain.
func (sm *StateManager) Snapshot() orchestration.WorkflowState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cp := sm.state
	cp.TaskStatus = make(map[string]orchestration.TaskStatus, len(sm.state.TaskStatus))
	for k, v := range sm.state.TaskStatus {
		cp.TaskStatus[k] = v
	}
	cp.TaskResults = make(map[string]orchestration.TaskResult, len(sm.state.TaskResults))
	for k, v := range sm.state.TaskResults {
		cp.TaskResults[k] = v
	}
	cp.Events = append([]orchestration.StateEvent(nil), sm.state.Events...)
	return cp
}

// StatusSnapshot returns a copy of just the task-id -> status map, the
// shape the condition AST evaluates against.
func (sm *StateManager) StatusSnapshot() map[string]orchestration.TaskStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cp := make(map[string]orchestration.TaskStatus, len(sm.state.TaskStatus))
	for k, v := range sm.state.TaskStatus {
		cp[k] = v
	}
	return cp
}
