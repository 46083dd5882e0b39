package orchestration

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizeWorkflow fills in the defaults callers are allowed to omit on
// submission: a workflow with no MaxParallelTasks gets one slot, and a task
// with no Priority is treated as medium priority (5), matching the implicit
// defaults of the system this engine grew out of. It returns a copy; the
// caller's Workflow and Tasks slice are left untouched.
func NormalizeWorkflow(wf Workflow) Workflow {
	if wf.MaxParallelTasks == 0 {
		wf.MaxParallelTasks = 1
	}
	tasks := make([]Task, len(wf.Tasks))
	copy(tasks, wf.Tasks)
	for i := range tasks {
		if tasks[i].Priority == 0 {
			tasks[i].Priority = 5
		}
	}
	wf.Tasks = tasks
	return wf
}

// ValidateWorkflow enforces the structural invariants this engine requires
// at submission time: unique task ids, resolvable dependency references,
// acyclic dependency graph, and range checks on the numeric knobs.
func ValidateWorkflow(wf Workflow) error {
	if wf.MaxParallelTasks < 1 {
		return NewOrchestrationError(ErrorKindValidation, "max_parallel_tasks must be >= 1")
	}

	seen := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if t.ID == "" {
			return NewOrchestrationError(ErrorKindValidation, "task id must not be empty")
		}
		if seen[t.ID] {
			return NewOrchestrationError(ErrorKindValidation, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seen[t.ID] = true

		if t.Priority < 1 || t.Priority > 10 {
			return NewTaskError(ErrorKindValidation, t.ID, "priority must be within [1,10]")
		}
		if t.Retry.MaxRetries < 0 {
			return NewTaskError(ErrorKindValidation, t.ID, "max_retries must be >= 0")
		}
		if t.Retry.InitialDelay < 0 || t.Retry.MaxDelay < 0 {
			return NewTaskError(ErrorKindValidation, t.ID, "retry delays must be non-negative")
		}
		if t.Retry.MaxDelay < t.Retry.InitialDelay {
			return NewTaskError(ErrorKindValidation, t.ID, "max_delay must be >= initial_delay")
		}
		for _, c := range t.RequiredCapabilities {
			if !KnownCapabilities[c] {
				return NewTaskError(ErrorKindValidation, t.ID, fmt.Sprintf("unrecognized capability %q", c))
			}
		}
	}

	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return NewTaskError(ErrorKindValidation, t.ID, fmt.Sprintf("depends on unknown task %q", dep))
			}
		}
		if t.Condition != "" {
			ids, err := ConditionReferences(t.Condition)
			if err != nil {
				return NewTaskError(ErrorKindValidation, t.ID, fmt.Sprintf("invalid condition: %v", err))
			}
			for _, id := range ids {
				if !seen[id] {
					return NewTaskError(ErrorKindValidation, t.ID, fmt.Sprintf("condition references unknown task %q", id))
				}
			}
		}
	}

	if wf.Strategy == ExecutionStrategyParallel {
		for _, t := range wf.Tasks {
			if len(t.DependsOn) > 0 {
				return NewOrchestrationError(ErrorKindValidation,
					"parallel strategy rejects workflows where any task declares dependencies")
			}
		}
	}

	if cycle := FindCycle(wf.Tasks); cycle != nil {
		return NewOrchestrationError(ErrorKindCyclicDependency,
			fmt.Sprintf("cyclic dependency: %s", strings.Join(cycle, " -> ")))
	}

	return nil
}

// FindCycle runs a DFS over the dependency graph and returns the member
// ids of a cycle (in traversal order) if one exists, or nil.
func FindCycle(tasks []Task) []string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		d := append([]string(nil), t.DependsOn...)
		sort.Strings(d)
		deps[t.ID] = d
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Found the back-edge; slice the stack to the cycle members.
				for i, s := range stack {
					if s == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
				return []string{dep}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopologicalOrder returns task ids ordered by Kahn's algorithm, breaking
// ties by (descending priority, declared order) — the order the
// Sequential strategy dispatches in. Assumes the graph is already acyclic.
func TopologicalOrder(tasks []Task) []string {
	indexOf := make(map[string]int, len(tasks))
	byID := make(map[string]Task, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for i, t := range tasks {
		indexOf[t.ID] = i
		byID[t.ID] = t
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	ready := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	sortByPriorityThenOrder(ready, byID, indexOf)

	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := make([]string, 0)
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sortByPriorityThenOrder(next, byID, indexOf)
		ready = append(ready, next...)
		sortByPriorityThenOrder(ready, byID, indexOf)
	}
	return order
}

func sortByPriorityThenOrder(ids []string, byID map[string]Task, indexOf map[string]int) {
	sort.SliceStable(ids, func(i, j int) bool {
		ti, tj := byID[ids[i]], byID[ids[j]]
		if ti.Priority != tj.Priority {
			return ti.Priority > tj.Priority
		}
		return indexOf[ids[i]] < indexOf[ids[j]]
	})
}
