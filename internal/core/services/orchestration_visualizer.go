package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// VisualizationFormat selects the rendering produced by Visualizer.Render.
type VisualizationFormat string

const (
	VisualizationMermaid  VisualizationFormat = "mermaid"
	VisualizationGraphviz VisualizationFormat = "graphviz"
	VisualizationASCII    VisualizationFormat = "ascii"
	VisualizationJSON     VisualizationFormat = "json"
)

// Visualizer renders a workflow's dependency graph, optionally overlaid
// with a run's live or final status, per original_source/.../visualization.py.
type Visualizer struct {
	workflow orchestration.Workflow
	state    *orchestration.WorkflowState
}

// NewVisualizer builds a Visualizer for wf. state may be nil to render
// the bare graph without status overlays.
func NewVisualizer(wf orchestration.Workflow, state *orchestration.WorkflowState) *Visualizer {
	return &Visualizer{workflow: wf, state: state}
}

// Render produces the requested representation of the workflow graph.
func (v *Visualizer) Render(format VisualizationFormat, includeMetrics bool) (string, error) {
	switch format {
	case VisualizationMermaid:
		return v.mermaid(includeMetrics), nil
	case VisualizationGraphviz:
		return v.graphviz(includeMetrics), nil
	case VisualizationASCII:
		return v.ascii(includeMetrics), nil
	case VisualizationJSON:
		return v.json(includeMetrics)
	default:
		return "", fmt.Errorf("unsupported visualization format: %s", format)
	}
}

func (v *Visualizer) taskStatus(id string) orchestration.TaskStatus {
	if v.state == nil {
		return ""
	}
	if status, ok := v.state.TaskStatus[id]; ok {
		return status
	}
	return orchestration.TaskStatusPending
}

func sanitizeID(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return r.Replace(id)
}

func (v *Visualizer) mermaid(includeMetrics bool) string {
	var lines []string
	lines = append(lines, "```mermaid", "graph TD")

	for _, t := range v.workflow.Tasks {
		nodeID := sanitizeID(t.ID)
		label := t.ID
		if includeMetrics && v.state != nil {
			if result, ok := v.state.TaskResults[t.ID]; ok {
				label = fmt.Sprintf("%s<br/>%s", t.ID, formatDuration(result))
			}
		}
		lines = append(lines, fmt.Sprintf("    %s[%s]%s", nodeID, label, mermaidStyle(v.taskStatus(t.ID))))
	}

	for _, t := range v.workflow.Tasks {
		nodeID := sanitizeID(t.ID)
		for _, dep := range t.DependsOn {
			lines = append(lines, fmt.Sprintf("    %s --> %s", sanitizeID(dep), nodeID))
		}
	}

	lines = append(lines,
		"",
		"    classDef completed fill:#90EE90,stroke:#006400,stroke-width:2px",
		"    classDef failed fill:#FFB6C1,stroke:#8B0000,stroke-width:2px",
		"    classDef running fill:#87CEEB,stroke:#00008B,stroke-width:2px",
		"    classDef pending fill:#F0E68C,stroke:#8B8B00,stroke-width:2px",
		"```",
	)
	return strings.Join(lines, "\n")
}

func mermaidStyle(status orchestration.TaskStatus) string {
	switch status {
	case "":
		return ""
	case orchestration.TaskStatusCompleted:
		return ":::completed"
	case orchestration.TaskStatusFailed, orchestration.TaskStatusCancelled:
		return ":::failed"
	case orchestration.TaskStatusRunning:
		return ":::running"
	default:
		return ":::pending"
	}
}

func (v *Visualizer) graphviz(includeMetrics bool) string {
	lines := []string{
		"digraph Workflow {",
		"    rankdir=TB;",
		"    node [shape=box, style=rounded];",
		"",
	}

	for _, t := range v.workflow.Tasks {
		nodeID := sanitizeID(t.ID)
		label := t.ID
		if includeMetrics && v.state != nil {
			if result, ok := v.state.TaskResults[t.ID]; ok && result.Duration() > 0 {
				label = fmt.Sprintf("%s\\n%s", t.ID, formatDuration(result))
			}
		}
		border, fill := graphvizColors(v.taskStatus(t.ID))
		lines = append(lines, fmt.Sprintf(
			`    %s [label="%s", color="%s", fillcolor="%s", style="filled,rounded"];`,
			nodeID, label, border, fill,
		))
	}
	lines = append(lines, "")

	for _, t := range v.workflow.Tasks {
		nodeID := sanitizeID(t.ID)
		for _, dep := range t.DependsOn {
			lines = append(lines, fmt.Sprintf("    %s -> %s;", sanitizeID(dep), nodeID))
		}
	}
	lines = append(lines, "}")
	return strings.Join(lines, "\n")
}

func graphvizColors(status orchestration.TaskStatus) (border, fill string) {
	switch status {
	case "":
		return "black", "white"
	case orchestration.TaskStatusCompleted:
		return "darkgreen", "lightgreen"
	case orchestration.TaskStatusFailed, orchestration.TaskStatusCancelled:
		return "darkred", "lightpink"
	case orchestration.TaskStatusRunning:
		return "darkblue", "lightblue"
	default:
		return "goldenrod", "lightyellow"
	}
}

func (v *Visualizer) ascii(includeMetrics bool) string {
	lines := []string{
		fmt.Sprintf("Workflow: %s", v.workflow.Name),
		fmt.Sprintf("Strategy: %s", v.workflow.Strategy),
		strings.Repeat("=", 70),
		"",
	}

	levels := v.computeTaskLevels()
	for level, ids := range levels {
		if level > 0 {
			lines = append(lines, "    ↓")
		}
		lines = append(lines, fmt.Sprintf("Level %d:", level))
		for _, id := range ids {
			task, _ := taskByID(v.workflow, id)
			line := fmt.Sprintf("  %s %s", asciiSymbol(v.taskStatus(id)), task.ID)
			if includeMetrics && v.state != nil {
				if result, ok := v.state.TaskResults[id]; ok && result.Duration() > 0 {
					line += fmt.Sprintf(" (%s)", formatDuration(result))
				}
			}
			if len(task.DependsOn) > 0 {
				line += fmt.Sprintf(" [depends: %s]", strings.Join(task.DependsOn, ", "))
			}
			lines = append(lines, line)
		}
	}

	lines = append(lines, "", "Legend:",
		"  ✓ Completed",
		"  ✗ Failed",
		"  ⟳ Running",
		"  ○ Pending",
	)
	return strings.Join(lines, "\n")
}

func asciiSymbol(status orchestration.TaskStatus) string {
	switch status {
	case orchestration.TaskStatusCompleted:
		return "✓"
	case orchestration.TaskStatusFailed, orchestration.TaskStatusCancelled:
		return "✗"
	case orchestration.TaskStatusRunning:
		return "⟳"
	default:
		return "○"
	}
}

// computeTaskLevels groups task ids by dependency depth, per
// original_source/.../visualization.py: _compute_task_levels. A
// leftover cycle (should never happen, since ValidateWorkflow rejects
// cyclic graphs before this is reachable) is dumped as one final level
// rather than looping forever.
func (v *Visualizer) computeTaskLevels() [][]string {
	deps := make(map[string]map[string]bool, len(v.workflow.Tasks))
	all := make(map[string]bool, len(v.workflow.Tasks))
	for _, t := range v.workflow.Tasks {
		all[t.ID] = true
		set := make(map[string]bool, len(t.DependsOn))
		for _, d := range t.DependsOn {
			set[d] = true
		}
		deps[t.ID] = set
	}

	var levels [][]string
	assigned := make(map[string]bool)

	for len(assigned) < len(all) {
		var current []string
		for id := range all {
			if assigned[id] {
				continue
			}
			if subsetOf(deps[id], assigned) {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			var remaining []string
			for id := range all {
				if !assigned[id] {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			levels = append(levels, remaining)
			break
		}
		sort.Strings(current)
		levels = append(levels, current)
		for _, id := range current {
			assigned[id] = true
		}
	}
	return levels
}

func subsetOf(set map[string]bool, of map[string]bool) bool {
	for k := range set {
		if !of[k] {
			return false
		}
	}
	return true
}

type visualizationNode struct {
	ID           string             `json:"id"`
	Description  string             `json:"description"`
	Capabilities []orchestration.Capability `json:"capabilities"`
	Skills       []string           `json:"skills"`
	Priority     int                `json:"priority"`
	Status       orchestration.TaskStatus  `json:"status,omitempty"`
	Metrics      *visualizationMetrics `json:"metrics,omitempty"`
	Error        string             `json:"error,omitempty"`
}

type visualizationMetrics struct {
	DurationSeconds float64 `json:"duration_seconds"`
	RetryCount      int     `json:"retry_count"`
	WorkerID        string  `json:"worker_id,omitempty"`
}

type visualizationEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type visualizationWorkflow struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Strategy    orchestration.ExecutionStrategy `json:"strategy"`
	Status      orchestration.WorkflowStatus `json:"status,omitempty"`
	StartedAt   string                `json:"started_at,omitempty"`
	CompletedAt string                `json:"completed_at,omitempty"`
}

type visualizationDocument struct {
	Workflow visualizationWorkflow `json:"workflow"`
	Nodes    []visualizationNode   `json:"nodes"`
	Edges    []visualizationEdge   `json:"edges"`
}

func (v *Visualizer) json(includeMetrics bool) (string, error) {
	doc := visualizationDocument{
		Workflow: visualizationWorkflow{
			ID:       v.workflow.ID,
			Name:     v.workflow.Name,
			Strategy: v.workflow.Strategy,
		},
	}

	for _, t := range v.workflow.Tasks {
		node := visualizationNode{
			ID:           t.ID,
			Description:  t.Description,
			Capabilities: t.RequiredCapabilities,
			Skills:       t.RequiredSkills,
			Priority:     t.Priority,
		}
		if status := v.taskStatus(t.ID); status != "" {
			node.Status = status
		}
		if includeMetrics && v.state != nil {
			if result, ok := v.state.TaskResults[t.ID]; ok {
				node.Metrics = &visualizationMetrics{
					DurationSeconds: result.Duration().Seconds(),
					RetryCount:      result.Attempts - 1,
					WorkerID:        result.WorkerID,
				}
				if result.Error != nil {
					node.Error = result.Error.Message
				}
			}
		}
		doc.Nodes = append(doc.Nodes, node)

		for _, dep := range t.DependsOn {
			doc.Edges = append(doc.Edges, visualizationEdge{From: dep, To: t.ID})
		}
	}

	if v.state != nil {
		doc.Workflow.Status = v.state.Status
		if v.state.StartedAt != nil {
			doc.Workflow.StartedAt = v.state.StartedAt.Format(rfc3339Milli)
		}
		if v.state.CompletedAt != nil {
			doc.Workflow.CompletedAt = v.state.CompletedAt.Format(rfc3339Milli)
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

func formatDuration(r orchestration.TaskResult) string {
	d := r.Duration()
	if d == 0 {
		return "?"
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
