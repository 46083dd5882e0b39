package ports

import (
	"context"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// WorkRequest bundles everything a Worker needs to execute one task
// attempt.
type WorkRequest struct {
	TaskID             string
	Description        string
	Parameters         map[string]any
	LoadedSkills       map[string]string
	DependencyOutputs  map[string]orchestration.Output
}

// Worker performs a task attempt. Implementations must be safe to call
// concurrently and re-entrant across retries of different attempts —
// the Dispatcher assumes each attempt is independent.
type Worker interface {
	Execute(ctx context.Context, req WorkRequest) (orchestration.Output, error)
}

// SkillRegistry resolves a required skill name to its body. The
// orchestration core only consumes this lookup interface — skill content
// discovery/parsing lives elsewhere.
type SkillRegistry interface {
	Lookup(name string) (string, bool)
	Names() []string
}

// CacheStorage is the disk backend interface for the Cache component.
// The backend is free to choose its on-disk layout.
type CacheStorage interface {
	Read(key string) ([]byte, bool, error)
	Write(key string, data []byte, ttl time.Duration) error
	Delete(key string) error
	ListKeys() ([]string, error)
}

// RunRepository persists terminal WorkflowState snapshots for later
// inspection — an append-only audit trail, not the durable
// restart-recovery persistence the spec's Non-goals exclude.
type RunRepository interface {
	SaveRun(ctx context.Context, state *orchestration.WorkflowState) error
	GetRun(ctx context.Context, runID string) (*orchestration.WorkflowState, error)
	ListRuns(ctx context.Context, workflowID string) ([]orchestration.WorkflowState, error)
}
