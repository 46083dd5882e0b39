package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// ContainerWorker executes a task by running a short-lived, network-isolated
// container per attempt, following the security posture in
// internal/adapters/docker/manager.go (NetworkMode: none, ReadonlyRootfs,
// a writable /tmp only). The task's request is passed to the container as
// a JSON payload on stdin; its stdout is captured as the task's output.
type ContainerWorker struct {
	cli   *client.Client
	image string
	// command is the entrypoint executed inside the container. It is
	// expected to read the JSON-encoded ports.WorkRequest from stdin and
	// write either plain text or a JSON document to stdout.
	command []string
}

// NewContainerWorker builds a ContainerWorker backed by the local Docker
// daemon, running image for every task attempt.
func NewContainerWorker(image string, command []string) (*ContainerWorker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("worker: failed to create docker client: %w", err)
	}
	if len(command) == 0 {
		command = []string{"sh", "-c", "cat"}
	}
	return &ContainerWorker{cli: cli, image: image, command: command}, nil
}

var _ ports.Worker = (*ContainerWorker)(nil)

// Execute runs one task attempt to completion inside a fresh container,
// always removing the container before returning.
func (w *ContainerWorker) Execute(ctx context.Context, req ports.WorkRequest) (orchestration.Output, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to marshal request: %w", err)
	}

	name := "aule-task-" + uuid.NewString()
	cfg := &container.Config{
		Image:        w.image,
		Cmd:          w.command,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels: map[string]string{
			"aule.orchestration.task": req.TaskID,
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}

	resp, err := w.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to create container for task %s: %w", req.TaskID, err)
	}
	defer w.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	attach, err := w.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to attach to container for task %s: %w", req.TaskID, err)
	}
	defer attach.Close()

	if err := w.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to start container for task %s: %w", req.TaskID, err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to write task payload: %w", err)
	}
	attach.CloseWrite()

	// With Tty disabled the attach stream multiplexes stdout and stderr
	// behind frame headers; demultiplex it and keep stdout only.
	var stdout bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, io.Discard, attach.Reader); err != nil {
		return orchestration.Output{}, fmt.Errorf("worker: failed to read container output for task %s: %w", req.TaskID, err)
	}

	waitCh, errCh := w.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return orchestration.Output{}, fmt.Errorf("worker: container wait failed for task %s: %w", req.TaskID, err)
		}
	case status := <-waitCh:
		if status.StatusCode != 0 {
			return orchestration.Output{}, fmt.Errorf("worker: task %s exited with status %d: %s", req.TaskID, status.StatusCode, stdout.String())
		}
	case <-ctx.Done():
		return orchestration.Output{}, ctx.Err()
	}

	text := stdout.String()
	var decoded any
	if json.Unmarshal(stdout.Bytes(), &decoded) == nil {
		return orchestration.Output{Kind: orchestration.OutputKindStructured, JSON: decoded, Text: text}, nil
	}
	return orchestration.Output{Kind: orchestration.OutputKindString, Text: text}, nil
}
