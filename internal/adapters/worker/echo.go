// Package worker holds ports.Worker implementations for the
// orchestration core: an in-memory reference worker for tests and
// examples, and a Docker-backed worker for real task execution.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// EchoWorker is a reference ports.Worker that always succeeds,
// returning a structured Output that echoes back its request. It has no
// external dependencies and is the default worker wired for
// documentation examples and unit tests.
type EchoWorker struct{}

var _ ports.Worker = EchoWorker{}

// Execute returns a structured Output describing the request it received.
func (EchoWorker) Execute(ctx context.Context, req ports.WorkRequest) (orchestration.Output, error) {
	if err := ctx.Err(); err != nil {
		return orchestration.Output{}, err
	}
	body := map[string]any{
		"task_id":     req.TaskID,
		"description": req.Description,
		"parameters":  req.Parameters,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return orchestration.Output{}, fmt.Errorf("echo worker: failed to marshal response: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return orchestration.Output{}, err
	}
	return orchestration.Output{Kind: orchestration.OutputKindStructured, JSON: decoded}, nil
}

// FailingWorker always returns an error, useful for exercising retry and
// dependency-failure cascades in tests.
type FailingWorker struct {
	Message string
}

var _ ports.Worker = FailingWorker{}

func (w FailingWorker) Execute(ctx context.Context, req ports.WorkRequest) (orchestration.Output, error) {
	if err := ctx.Err(); err != nil {
		return orchestration.Output{}, err
	}
	msg := w.Message
	if msg == "" {
		msg = "failing worker: task " + req.TaskID
	}
	return orchestration.Output{}, fmt.Errorf("%s", msg)
}
