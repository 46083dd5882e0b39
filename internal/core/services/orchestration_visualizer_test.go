package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

func visualizerTestWorkflow() orchestration.Workflow {
	return orchestration.Workflow{
		ID:       "wf-1",
		Name:     "example",
		Strategy: orchestration.ExecutionStrategyDAG,
		Tasks: []orchestration.Task{
			{ID: "a", Priority: 1},
			{ID: "b", Priority: 1, DependsOn: []string{"a"}},
		},
	}
}

func TestVisualizerRenderMermaidIncludesNodesAndEdges(t *testing.T) {
	v := NewVisualizer(visualizerTestWorkflow(), nil)
	out, err := v.Render(VisualizationMermaid, false)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "a[a]")
	assert.Contains(t, out, "a --> b")
}

func TestVisualizerRenderGraphvizIncludesDigraph(t *testing.T) {
	v := NewVisualizer(visualizerTestWorkflow(), nil)
	out, err := v.Render(VisualizationGraphviz, false)
	require.NoError(t, err)
	assert.Contains(t, out, "digraph Workflow {")
	assert.Contains(t, out, "a -> b;")
}

func TestVisualizerRenderASCIIGroupsByLevel(t *testing.T) {
	v := NewVisualizer(visualizerTestWorkflow(), nil)
	out, err := v.Render(VisualizationASCII, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Level 0:")
	assert.Contains(t, out, "Level 1:")
	assert.Contains(t, out, "depends: a")
}

func TestVisualizerRenderJSONRoundTrips(t *testing.T) {
	v := NewVisualizer(visualizerTestWorkflow(), nil)
	out, err := v.Render(VisualizationJSON, false)
	require.NoError(t, err)

	var doc visualizationDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "wf-1", doc.Workflow.ID)
	assert.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, "a", doc.Edges[0].From)
	assert.Equal(t, "b", doc.Edges[0].To)
}

func TestVisualizerRenderJSONIncludesStatusOverlay(t *testing.T) {
	wf := visualizerTestWorkflow()
	state := &orchestration.WorkflowState{
		Status: orchestration.WorkflowRunRunning,
		TaskStatus: map[string]orchestration.TaskStatus{
			"a": orchestration.TaskStatusCompleted,
			"b": orchestration.TaskStatusRunning,
		},
	}
	v := NewVisualizer(wf, state)
	out, err := v.Render(VisualizationJSON, false)
	require.NoError(t, err)

	var doc visualizationDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, orchestration.WorkflowRunRunning, doc.Workflow.Status)

	statuses := make(map[string]orchestration.TaskStatus)
	for _, n := range doc.Nodes {
		statuses[n.ID] = n.Status
	}
	assert.Equal(t, orchestration.TaskStatusCompleted, statuses["a"])
	assert.Equal(t, orchestration.TaskStatusRunning, statuses["b"])
}

func TestVisualizerRenderUnsupportedFormat(t *testing.T) {
	v := NewVisualizer(visualizerTestWorkflow(), nil)
	_, err := v.Render(VisualizationFormat("bogus"), false)
	assert.Error(t, err)
}
