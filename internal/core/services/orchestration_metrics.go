package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// TaskMetrics is the record kept for one task's terminal outcome, with
// Retries counting the attempts after the first.
type TaskMetrics struct {
	TaskID    string
	Status    orchestration.TaskStatus
	Duration  time.Duration
	StartedAt time.Time
	EndedAt   time.Time
	Retries   int
	WorkerID  string
	Error     string
}

// WorkflowMetrics aggregates TaskMetrics for one workflow run, mirroring
// original_source/.../metrics.py: WorkflowMetrics.
type WorkflowMetrics struct {
	WorkflowID    string
	RunID         string
	TotalTasks    int
	ByStatus      map[orchestration.TaskStatus]int
	AverageDur    time.Duration
	SlowestTask   string
	SlowestDur    time.Duration
	FastestTask   string
	FastestDur    time.Duration
	SuccessRate   float64
	RetryRate     float64
	TotalWallTime time.Duration
	Tasks         []TaskMetrics
}

// GetBottleneck returns the id of the slowest task, or "" if none recorded.
func (m WorkflowMetrics) GetBottleneck() string { return m.SlowestTask }

// MetricsCollector records per-task and per-workflow metrics and exposes
// cross-workflow aggregates.
type MetricsCollector struct {
	mu        sync.Mutex
	workflows map[string]WorkflowMetrics // keyed by run id
}

// NewMetricsCollector constructs an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{workflows: make(map[string]WorkflowMetrics)}
}

// RecordWorkflow computes and stores a WorkflowMetrics snapshot from a
// finished WorkflowState, following
// original_source/.../metrics.py: WorkflowMetrics.from_workflow_state.
func (mc *MetricsCollector) RecordWorkflow(wf orchestration.Workflow, state orchestration.WorkflowState) WorkflowMetrics {
	wm := WorkflowMetrics{
		WorkflowID: wf.ID,
		RunID:      state.RunID,
		TotalTasks: len(wf.Tasks),
		ByStatus:   make(map[orchestration.TaskStatus]int),
	}

	var totalDur time.Duration
	var completedCount, retrySum int
	var slowest, fastest *TaskMetrics

	for _, t := range wf.Tasks {
		result, ok := state.TaskResults[t.ID]
		if !ok {
			continue
		}
		wm.ByStatus[result.Status]++
		retrySum += max(result.Attempts-1, 0)

		tm := TaskMetrics{
			TaskID:   t.ID,
			Status:   result.Status,
			Duration: result.Duration(),
			Retries:  max(result.Attempts-1, 0),
			WorkerID: result.WorkerID,
		}
		if result.StartedAt != nil {
			tm.StartedAt = *result.StartedAt
		}
		if result.CompletedAt != nil {
			tm.EndedAt = *result.CompletedAt
		}
		if result.Error != nil {
			tm.Error = result.Error.Message
		}
		wm.Tasks = append(wm.Tasks, tm)

		if result.Status == orchestration.TaskStatusCompleted {
			completedCount++
			totalDur += tm.Duration
			if slowest == nil || tm.Duration > slowest.Duration {
				cp := tm
				slowest = &cp
			}
			if fastest == nil || tm.Duration < fastest.Duration {
				cp := tm
				fastest = &cp
			}
		}
	}

	if completedCount > 0 {
		wm.AverageDur = totalDur / time.Duration(completedCount)
		wm.SuccessRate = float64(completedCount) / float64(wm.TotalTasks) * 100.0
	}
	if wm.TotalTasks > 0 {
		wm.RetryRate = float64(retrySum) / float64(wm.TotalTasks)
	}
	if slowest != nil {
		wm.SlowestTask, wm.SlowestDur = slowest.TaskID, slowest.Duration
	}
	if fastest != nil {
		wm.FastestTask, wm.FastestDur = fastest.TaskID, fastest.Duration
	}
	if state.StartedAt != nil && state.CompletedAt != nil {
		wm.TotalWallTime = state.CompletedAt.Sub(*state.StartedAt)
	}

	mc.mu.Lock()
	mc.workflows[state.RunID] = wm
	mc.mu.Unlock()

	return wm
}

// GetWorkflowMetrics returns the recorded metrics for a run id.
func (mc *MetricsCollector) GetWorkflowMetrics(runID string) (WorkflowMetrics, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	wm, ok := mc.workflows[runID]
	return wm, ok
}

// AggregateStats summarizes success rate and duration across every
// recorded run, per original_source/.../metrics.py: get_aggregate_stats.
type AggregateStats struct {
	RunCount           int
	AverageSuccessRate float64
	AverageDuration    time.Duration
}

// GetAggregateStats computes cross-workflow aggregates.
func (mc *MetricsCollector) GetAggregateStats() AggregateStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.workflows) == 0 {
		return AggregateStats{}
	}
	var successSum float64
	var durSum time.Duration
	for _, wm := range mc.workflows {
		successSum += wm.SuccessRate
		durSum += wm.TotalWallTime
	}
	n := len(mc.workflows)
	return AggregateStats{
		RunCount:           n,
		AverageSuccessRate: successSum / float64(n),
		AverageDuration:    durSum / time.Duration(n),
	}
}

// Clear discards every recorded workflow's metrics.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.workflows = make(map[string]WorkflowMetrics)
}

// Report renders a human-readable multi-line performance report for a
// run, per original_source/.../metrics.py: get_performance_report.
func (mc *MetricsCollector) Report(runID string) string {
	wm, ok := mc.GetWorkflowMetrics(runID)
	if !ok {
		return fmt.Sprintf("no metrics recorded for run %s", runID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s (run %s)\n", wm.WorkflowID, wm.RunID)
	fmt.Fprintf(&b, "  Total wall time: %s\n", wm.TotalWallTime)
	fmt.Fprintf(&b, "  Tasks: %d\n", wm.TotalTasks)
	for _, status := range []orchestration.TaskStatus{
		orchestration.TaskStatusCompleted, orchestration.TaskStatusFailed,
		orchestration.TaskStatusSkipped, orchestration.TaskStatusCancelled,
	} {
		if n := wm.ByStatus[status]; n > 0 {
			fmt.Fprintf(&b, "    %s: %d\n", status, n)
		}
	}
	fmt.Fprintf(&b, "  Success rate: %.1f%%\n", wm.SuccessRate)
	fmt.Fprintf(&b, "  Retry rate: %.2f retries/task\n", wm.RetryRate)
	if wm.SlowestTask != "" {
		fmt.Fprintf(&b, "  Slowest task: %s (%s)\n", wm.SlowestTask, wm.SlowestDur)
	}
	if wm.FastestTask != "" {
		fmt.Fprintf(&b, "  Fastest task: %s (%s)\n", wm.FastestTask, wm.FastestDur)
	}
	return b.String()
}
