package orchestration

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Capability is a named competence advertised by workers and required by tasks.
type Capability string

const (
	CapabilityGeneral        Capability = "general"
	CapabilityCodeAnalysis   Capability = "code_analysis"
	CapabilityCodeGeneration Capability = "code_generation"
	CapabilityTesting        Capability = "testing"
	CapabilityDebugging      Capability = "debugging"
	CapabilityDocumentation  Capability = "documentation"
	CapabilityDataProcessing Capability = "data_processing"
	CapabilityFileOps        Capability = "file_operations"
	CapabilityAPIIntegration Capability = "api_integration"
	CapabilityResearch       Capability = "research"
)

// KnownCapabilities is the closed set of recognized capability values.
var KnownCapabilities = map[Capability]bool{
	CapabilityGeneral:        true,
	CapabilityCodeAnalysis:   true,
	CapabilityCodeGeneration: true,
	CapabilityTesting:        true,
	CapabilityDebugging:      true,
	CapabilityDocumentation:  true,
	CapabilityDataProcessing: true,
	CapabilityFileOps:        true,
	CapabilityAPIIntegration: true,
	CapabilityResearch:       true,
}

// TaskStatus is one of the states a task moves through during a workflow run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status cannot transition further.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionStrategy selects which scheduling policy runs a workflow.
type ExecutionStrategy string

const (
	ExecutionStrategyAuto        ExecutionStrategy = "auto"
	ExecutionStrategySequential  ExecutionStrategy = "sequential"
	ExecutionStrategyParallel    ExecutionStrategy = "parallel"
	ExecutionStrategyDAG         ExecutionStrategy = "dag"
	ExecutionStrategyConditional ExecutionStrategy = "conditional"
)

// RetryPolicy governs how a failed task attempt is retried.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay"`
	Jitter            bool          `json:"jitter"`
}

// DefaultRetryPolicy returns the no-retry-by-default backoff policy new
// tasks get when they don't declare their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        0,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Minute,
		Jitter:            false,
	}
}

// Task is an immutable-once-submitted unit of work within a Workflow.
type Task struct {
	ID                  string            `json:"id"`
	Description         string            `json:"description"`
	Type                string            `json:"type,omitempty"`
	DependsOn           []string          `json:"depends_on"`
	RequiredCapabilities []Capability     `json:"required_capabilities"`
	RequiredSkills      []string          `json:"required_skills"`
	Priority            int               `json:"priority"`
	TimeoutSeconds      *float64          `json:"timeout_seconds,omitempty"`
	Retry               RetryPolicy       `json:"retry"`
	Parameters          map[string]any    `json:"parameters,omitempty"`
	WorkerType          string            `json:"worker_type,omitempty"`
	Condition           string            `json:"condition,omitempty"`
}

// Timeout returns the task's configured timeout, or 0 if unset.
func (t Task) Timeout() time.Duration {
	if t.TimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*t.TimeoutSeconds * float64(time.Second))
}

// Workflow is a DAG of Tasks submitted as a unit.
type Workflow struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	Tasks              []Task            `json:"tasks"`
	Strategy           ExecutionStrategy `json:"strategy"`
	DefaultTimeout     time.Duration     `json:"default_timeout"`
	MaxParallelTasks   int               `json:"max_parallel_tasks"`
	ContinueOnFailure  bool              `json:"continue_on_failure"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// OutputKind tags the sum-type carried by TaskResult.Output.
type OutputKind string

const (
	OutputKindString     OutputKind = "string"
	OutputKindStructured OutputKind = "structured"
	OutputKindBinary     OutputKind = "binary"
	OutputKindError      OutputKind = "error"
)

// Output is an opaque envelope around a worker's return value.
type Output struct {
	Kind  OutputKind `json:"kind"`
	Text  string     `json:"text,omitempty"`
	JSON  any        `json:"json,omitempty"`
	Bytes []byte     `json:"bytes,omitempty"`
}

// TaskResult captures the terminal outcome of one task's execution.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Status      TaskStatus    `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Attempts    int           `json:"attempts"`
	WorkerID    string        `json:"worker_id,omitempty"`
	Output      *Output       `json:"output,omitempty"`
	Error       *TaskError    `json:"error,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// Duration returns the wall time spent on the task, or 0 if incomplete.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// TaskError is the structured error payload carried by a failed TaskResult.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Payload any       `json:"payload,omitempty"`
}

// WorkflowStatus is the overall status of a workflow run.
type WorkflowStatus string

const (
	WorkflowRunPending   WorkflowStatus = "pending"
	WorkflowRunRunning   WorkflowStatus = "running"
	WorkflowRunCompleted WorkflowStatus = "completed"
	WorkflowRunFailed    WorkflowStatus = "failed"
	WorkflowRunCancelled WorkflowStatus = "cancelled"
)

// StateEvent is one timestamped transition in a workflow's event log.
type StateEvent struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// WorkflowState is the live/finished record of one workflow run.
type WorkflowState struct {
	WorkflowID  string                 `json:"workflow_id"`
	RunID       string                 `json:"run_id"`
	Status      WorkflowStatus         `json:"status"`
	TaskStatus  map[string]TaskStatus  `json:"task_status"`
	TaskResults map[string]TaskResult  `json:"task_results"`
	Events      []StateEvent           `json:"events"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
}

// Progress summarizes counts-by-status across a workflow run.
type Progress struct {
	Total      int            `json:"total"`
	ByStatus   map[TaskStatus]int `json:"by_status"`
	PercentDone float64       `json:"percent_done"`
}

// NewWorkflowRunID generates a compact random run ID (run-<12 hex>),
// following the domain package's crypto/rand + hex convention.
func NewWorkflowRunID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "run-" + hex.EncodeToString(b)
}
