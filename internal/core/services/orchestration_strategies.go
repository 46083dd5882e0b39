package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"golang.org/x/sync/semaphore"
)

// readyPollInterval bounds how often DAG/Conditional strategies re-poll
// the ready set. The original DB-backed workflow_executor.go polls once
// per second because it round-trips through a repository; this
// in-memory state manager can afford a much tighter loop.
const readyPollInterval = 5 * time.Millisecond

// Strategy is the scheduling policy that decides which ready tasks to
// dispatch next. The four execution strategies collapse into this one
// interface rather than four unrelated executors.
type Strategy interface {
	Run(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager) error
}

func taskByID(wf orchestration.Workflow, id string) (orchestration.Task, bool) {
	for _, t := range wf.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return orchestration.Task{}, false
}

func sortIDsByPriority(ids []string, wf orchestration.Workflow) {
	index := make(map[string]int, len(wf.Tasks))
	priority := make(map[string]int, len(wf.Tasks))
	for i, t := range wf.Tasks {
		index[t.ID] = i
		priority[t.ID] = t.Priority
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if priority[ids[i]] != priority[ids[j]] {
			return priority[ids[i]] > priority[ids[j]]
		}
		return index[ids[i]] < index[ids[j]]
	})
}

// cancelRemaining marks every task that hasn't yet reached a terminal
// status as cancelled, used when a run is stopped early (cancellation or
// a non-continue-on-failure halt).
func cancelRemaining(sm *StateManager, wf orchestration.Workflow) {
	snapshot := sm.StatusSnapshot()
	for _, t := range wf.Tasks {
		if !snapshot[t.ID].IsTerminal() {
			sm.MarkCancelled(t.ID)
		}
	}
}

// --- Sequential ---

// SequentialStrategy runs one task at a time in topological order
// (stable by priority then declared order), stopping on first failure
// unless continue-on-failure is set.
type SequentialStrategy struct{ Logger *slog.Logger }

func (s SequentialStrategy) Run(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager) error {
	order := orchestration.TopologicalOrder(wf.Tasks)

	for _, id := range order {
		if ctx.Err() != nil {
			cancelRemaining(sm, wf)
			return nil
		}
		status := sm.StatusSnapshot()[id]
		if status.IsTerminal() {
			continue // already skipped via cascade
		}
		task, _ := taskByID(wf, id)
		dispatcher.Run(ctx, wf, task, sm)

		result := sm.Snapshot().TaskResults[id]
		if result.Status != orchestration.TaskStatusCompleted && !wf.ContinueOnFailure {
			cancelRemaining(sm, wf)
			return nil
		}
	}
	return nil
}

// --- Parallel ---

// ParallelStrategy treats every task as independent (validated to have
// no declared dependencies) and dispatches up to max_parallel_tasks concurrently.
type ParallelStrategy struct{ Logger *slog.Logger }

func (s ParallelStrategy) Run(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager) error {
	sem := semaphore.NewWeighted(int64(wf.MaxParallelTasks))
	var wg sync.WaitGroup

	for _, t := range wf.Tasks {
		if ctx.Err() != nil {
			break
		}
		t := t
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			dispatcher.Run(ctx, wf, t, sm)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		cancelRemaining(sm, wf)
	}
	return nil
}

// --- DAG ---

// DAGStrategy repeatedly queries the ready set, dispatching up to
// max_parallel_tasks of them ordered by priority then declared order,
// and recomputes on every completion.
type DAGStrategy struct{ Logger *slog.Logger }

func (s DAGStrategy) Run(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager) error {
	return runReadySetLoop(ctx, wf, dispatcher, sm, nil)
}

// --- Conditional ---

// ConditionalStrategy behaves like DAG, but a task with a condition is
// only dispatched once its condition evaluates true against the current
// state; otherwise it is skipped with reason "condition_unmet".
type ConditionalStrategy struct{ Logger *slog.Logger }

func (s ConditionalStrategy) Run(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager) error {
	conditions := make(map[string]orchestration.ConditionNode, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if t.Condition == "" {
			continue
		}
		node, err := orchestration.ParseCondition(t.Condition)
		if err != nil {
			// Already validated at submission time; treat a parse failure
			// here as an internal invariant violation.
			sm.MarkFailed(t.ID, &orchestration.TaskError{
				Kind:    orchestration.ErrorKindInternal,
				Message: "condition failed to re-parse: " + err.Error(),
			})
			continue
		}
		conditions[t.ID] = node
	}

	// A task's gate can only be decided once every id its condition
	// references has reached a terminal status — not merely its declared
	// dependencies, which may be a strict subset (e.g. condition
	// "NOT check" on a task with no DependsOn on check at all). Deciding
	// early would race the referenced task's own completion.
	gate := func(id string) (decided, skip bool, reason string) {
		node, ok := conditions[id]
		if !ok {
			return true, false, ""
		}
		snapshot := sm.StatusSnapshot()
		for _, ref := range node.References() {
			if !snapshot[ref].IsTerminal() {
				return false, false, ""
			}
		}
		if node.Eval(snapshot) {
			return true, false, ""
		}
		return true, true, "condition_unmet"
	}

	return runReadySetLoop(ctx, wf, dispatcher, sm, gate)
}

// runReadySetLoop is the shared DAG/Conditional dispatch loop: poll the
// ready set, launch anything not yet launched (subject to an optional
// gate that can skip a task, or defer it when it can't yet be decided),
// bounded by a semaphore sized to max_parallel_tasks, until the workflow
// is complete.
func runReadySetLoop(ctx context.Context, wf orchestration.Workflow, dispatcher *Dispatcher, sm *StateManager, gate func(id string) (decided, skip bool, reason string)) error {
	sem := semaphore.NewWeighted(int64(wf.MaxParallelTasks))
	var wg sync.WaitGroup
	var launchedMu sync.Mutex
	launched := make(map[string]bool)

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		if sm.IsWorkflowComplete() {
			break
		}

		ready := sm.ReadyTasks()
		sortIDsByPriority(ready, wf)

		for _, id := range ready {
			launchedMu.Lock()
			if launched[id] {
				launchedMu.Unlock()
				continue
			}
			launchedMu.Unlock()

			if gate != nil {
				decided, skip, reason := gate(id)
				if !decided {
					// Referenced tasks haven't all reached a terminal
					// status yet; retry this id on the next tick.
					continue
				}
				if skip {
					launchedMu.Lock()
					launched[id] = true
					launchedMu.Unlock()
					sm.MarkSkipped(id, reason)
					continue
				}
			}

			launchedMu.Lock()
			launched[id] = true
			launchedMu.Unlock()

			task, _ := taskByID(wf, id)
			if err := sem.Acquire(ctx, 1); err != nil {
				continue
			}
			wg.Add(1)
			go func(t orchestration.Task) {
				defer wg.Done()
				defer sem.Release(1)
				dispatcher.Run(ctx, wf, t, sm)
			}(task)
		}

		if sm.RunningCount() == 0 && len(sm.ReadyTasks()) == 0 && !sm.IsWorkflowComplete() {
			// Nothing running and nothing ready: either we're between a
			// gate skip and its dependents becoming ready (next tick
			// resolves it) or the graph is exhausted for this branch.
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			cancelRemaining(sm, wf)
			return nil
		case <-ticker.C:
		}
	}

	wg.Wait()
	if ctx.Err() != nil {
		cancelRemaining(sm, wf)
	}
	return nil
}
