package services

import (
	"fmt"
	"strings"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// WorkflowAnalysis reports the structural characteristics a Recommend
// call bases its decision on, following
// original_source/.../strategy_selector.py: analyze_workflow.
type WorkflowAnalysis struct {
	TaskCount        int
	HasDependencies  bool
	HasConditions    bool
	TotalDeps        int
	AvgDepsPerTask   float64
	IndependentTasks int
	CanParallelize   bool
}

// AnalyzeWorkflow computes WorkflowAnalysis for wf.
func AnalyzeWorkflow(wf orchestration.Workflow) WorkflowAnalysis {
	var a WorkflowAnalysis
	a.TaskCount = len(wf.Tasks)
	for _, t := range wf.Tasks {
		if len(t.DependsOn) > 0 {
			a.HasDependencies = true
		} else {
			a.IndependentTasks++
		}
		if t.Condition != "" {
			a.HasConditions = true
		}
		a.TotalDeps += len(t.DependsOn)
	}
	if a.TaskCount > 0 {
		a.AvgDepsPerTask = float64(a.TotalDeps) / float64(a.TaskCount)
	}
	a.CanParallelize = a.IndependentTasks > 1 || (a.HasDependencies && a.IndependentTasks > 0)
	return a
}

// RecommendStrategy picks the execution strategy best suited to wf's
// shape, per original_source/.../strategy_selector.py: recommend_strategy's
// priority order: conditions > no-dependencies-with-multiple-tasks > has-dependencies > sequential.
func RecommendStrategy(wf orchestration.Workflow) orchestration.ExecutionStrategy {
	if len(wf.Tasks) == 0 {
		return orchestration.ExecutionStrategySequential
	}

	a := AnalyzeWorkflow(wf)

	if a.HasConditions {
		return orchestration.ExecutionStrategyConditional
	}
	if !a.HasDependencies {
		if a.TaskCount > 1 {
			return orchestration.ExecutionStrategyParallel
		}
		return orchestration.ExecutionStrategySequential
	}
	return orchestration.ExecutionStrategyDAG
}

// ResolveStrategy returns wf.Strategy unchanged unless it is the auto
// sentinel, in which case it defers to RecommendStrategy, per
// original_source/.../strategy_selector.py: auto_select_strategy.
func ResolveStrategy(wf orchestration.Workflow) orchestration.ExecutionStrategy {
	if wf.Strategy != orchestration.ExecutionStrategyAuto {
		return wf.Strategy
	}
	return RecommendStrategy(wf)
}

// ExplainStrategyChoice renders a human-readable rationale for the
// recommended strategy, per original_source/.../strategy_selector.py: explain_strategy_choice.
func ExplainStrategyChoice(wf orchestration.Workflow) string {
	a := AnalyzeWorkflow(wf)
	recommended := RecommendStrategy(wf)

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow '%s' analysis:\n", wf.Name)
	fmt.Fprintf(&b, "  - Tasks: %d\n", a.TaskCount)
	fmt.Fprintf(&b, "  - Independent tasks: %d\n", a.IndependentTasks)
	fmt.Fprintf(&b, "  - Has dependencies: %t\n", a.HasDependencies)
	fmt.Fprintf(&b, "  - Has conditions: %t\n", a.HasConditions)
	fmt.Fprintf(&b, "\nRecommended strategy: %s\n", recommended)

	switch recommended {
	case orchestration.ExecutionStrategyConditional:
		b.WriteString("  Reason: workflow contains conditional tasks that require runtime evaluation\n")
	case orchestration.ExecutionStrategyParallel:
		b.WriteString("  Reason: all tasks are independent and can run concurrently\n")
	case orchestration.ExecutionStrategyDAG:
		b.WriteString("  Reason: workflow has dependencies, DAG enables optimal parallel execution\n")
	default:
		b.WriteString("  Reason: simple workflow best suited for sequential execution\n")
	}
	return b.String()
}
