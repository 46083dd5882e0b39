package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleWorkflow(tasks ...Task) Workflow {
	return Workflow{
		ID:               "wf-1",
		Name:             "test",
		Tasks:            tasks,
		Strategy:         ExecutionStrategyDAG,
		MaxParallelTasks: 4,
	}
}

func TestValidateWorkflowAcceptsValidGraph(t *testing.T) {
	wf := simpleWorkflow(
		Task{ID: "a", Priority: 5},
		Task{ID: "b", Priority: 5, DependsOn: []string{"a"}},
	)
	assert.NoError(t, ValidateWorkflow(wf))
}

func TestValidateWorkflowRejectsDuplicateIDs(t *testing.T) {
	wf := simpleWorkflow(Task{ID: "a", Priority: 1}, Task{ID: "a", Priority: 1})
	err := ValidateWorkflow(wf)
	require.Error(t, err)
	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ErrorKindValidation, oe.Kind)
}

func TestValidateWorkflowRejectsUnknownDependency(t *testing.T) {
	wf := simpleWorkflow(Task{ID: "a", Priority: 1, DependsOn: []string{"missing"}})
	err := ValidateWorkflow(wf)
	require.Error(t, err)
}

func TestValidateWorkflowRejectsCycle(t *testing.T) {
	wf := simpleWorkflow(
		Task{ID: "a", Priority: 1, DependsOn: []string{"b"}},
		Task{ID: "b", Priority: 1, DependsOn: []string{"a"}},
	)
	err := ValidateWorkflow(wf)
	require.Error(t, err)
	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ErrorKindCyclicDependency, oe.Kind)
}

func TestValidateWorkflowRejectsParallelWithDependencies(t *testing.T) {
	wf := simpleWorkflow(
		Task{ID: "a", Priority: 1},
		Task{ID: "b", Priority: 1, DependsOn: []string{"a"}},
	)
	wf.Strategy = ExecutionStrategyParallel
	err := ValidateWorkflow(wf)
	require.Error(t, err)
}

func TestValidateWorkflowRejectsOutOfRangePriority(t *testing.T) {
	wf := simpleWorkflow(Task{ID: "a", Priority: 11})
	assert.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflowRejectsUnknownCapability(t *testing.T) {
	wf := simpleWorkflow(Task{ID: "a", Priority: 1, RequiredCapabilities: []Capability{"not_a_real_capability"}})
	assert.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflowRejectsConditionReferencingUnknownTask(t *testing.T) {
	wf := simpleWorkflow(Task{ID: "a", Priority: 1, Condition: "ghost"})
	assert.Error(t, ValidateWorkflow(wf))
}

func TestNormalizeWorkflowFillsPriorityAndParallelismDefaults(t *testing.T) {
	wf := Workflow{
		ID:    "wf-1",
		Name:  "test",
		Tasks: []Task{{ID: "a"}, {ID: "b", Priority: 8}},
	}
	normalized := NormalizeWorkflow(wf)
	assert.Equal(t, 1, normalized.MaxParallelTasks)
	assert.Equal(t, 5, normalized.Tasks[0].Priority)
	assert.Equal(t, 8, normalized.Tasks[1].Priority)
}

func TestNormalizeWorkflowDoesNotMutateCaller(t *testing.T) {
	wf := Workflow{ID: "wf-1", Name: "test", Tasks: []Task{{ID: "a"}}}
	_ = NormalizeWorkflow(wf)
	assert.Equal(t, 0, wf.Tasks[0].Priority)
}

func TestFindCycleReturnsNilForAcyclicGraph(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}
	assert.Nil(t, FindCycle(tasks))
}

func TestFindCycleDetectsSelfLoop(t *testing.T) {
	tasks := []Task{{ID: "a", DependsOn: []string{"a"}}}
	cycle := FindCycle(tasks)
	require.NotNil(t, cycle)
	assert.Contains(t, cycle, "a")
}

func TestTopologicalOrderRespectsDependenciesAndPriority(t *testing.T) {
	tasks := []Task{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 5, DependsOn: []string{"a"}},
		{ID: "c", Priority: 1, DependsOn: []string{"a"}},
	}
	order := TopologicalOrder(tasks)
	require.Len(t, order, 3)
	assert.Equal(t, "a", order[0])
	// b has higher priority than c, both become ready at the same time.
	assert.Equal(t, "b", order[1])
	assert.Equal(t, "c", order[2])
}
