package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// Dispatcher is the shared machinery for running a single task attempt
// through to a terminal outcome: cache check -> worker acquisition ->
// retry/timeout loop -> cache store. It records no metrics itself; the
// Orchestrator derives per-task metrics from the run's terminal state.
type Dispatcher struct {
	logger  *slog.Logger
	router  *Router
	cache   *Cache
	skills  ports.SkillRegistry
	workers map[string]ports.Worker
}

// NewDispatcher wires the shared collaborators every strategy dispatches through.
func NewDispatcher(logger *slog.Logger, router *Router, cache *Cache, skills ports.SkillRegistry, workers map[string]ports.Worker) *Dispatcher {
	return &Dispatcher{logger: logger, router: router, cache: cache, skills: skills, workers: workers}
}

// Run executes task T to a terminal status, observed by sm before
// returning.
func (d *Dispatcher) Run(ctx context.Context, wf orchestration.Workflow, task orchestration.Task, sm *StateManager) {
	depOutputs := d.dependencyOutputs(task, sm)

	var cacheKey string
	if d.cache != nil {
		cacheKey = d.cache.CacheKey(task, depOutputs)
		if out, hit := d.cache.Get(task.ID, cacheKey); hit {
			sm.MarkCompleted(task.ID, out)
			return
		}
	}

	workerType, outcome := d.router.Select(task)
	if outcome == RouteUnroutable {
		sm.MarkFailed(task.ID, &orchestration.TaskError{
			Kind:    orchestration.ErrorKindNoWorkerAvailable,
			Message: "no worker routing satisfies this task's requirements",
		})
		return
	}

	if err := d.router.Acquire(ctx, workerType); err != nil {
		if errors.Is(err, context.Canceled) {
			sm.MarkCancelled(task.ID)
			return
		}
		sm.MarkFailed(task.ID, &orchestration.TaskError{Kind: orchestration.ErrorKindNoWorkerAvailable, Message: err.Error()})
		return
	}
	defer d.router.Release(workerType)

	loadedSkills, err := d.resolveSkills(task)
	if err != nil {
		var oe *orchestration.OrchestrationError
		if errors.As(err, &oe) {
			sm.MarkFailed(task.ID, &orchestration.TaskError{Kind: oe.Kind, Message: oe.Message, Payload: oe.Payload})
		} else {
			sm.MarkFailed(task.ID, &orchestration.TaskError{Kind: orchestration.ErrorKindRequiredSkillMissing, Message: err.Error()})
		}
		return
	}

	worker, ok := d.workers[workerType]
	if !ok {
		sm.MarkFailed(task.ID, &orchestration.TaskError{
			Kind:    orchestration.ErrorKindNoWorkerAvailable,
			Message: "no worker implementation registered for type " + workerType,
		})
		return
	}

	timeout := effectiveTimeout(task, wf)
	req := ports.WorkRequest{
		TaskID:            task.ID,
		Description:       task.Description,
		Parameters:        task.Parameters,
		LoadedSkills:      loadedSkills,
		DependencyOutputs: depOutputs,
	}

	attempt := 0
	delay := task.Retry.InitialDelay

	for {
		attempt++
		sm.MarkRunning(task.ID, workerType)

		attemptCtx := ctx
		var cancelAttempt context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, timeout)
		}

		output, execErr := worker.Execute(attemptCtx, req)

		if cancelAttempt != nil {
			cancelAttempt()
		}

		if execErr == nil {
			if d.cache != nil {
				d.cache.Put(task.ID, cacheKey, output)
			}
			sm.MarkCompleted(task.ID, output)
			return
		}

		if ctx.Err() != nil {
			sm.MarkCancelled(task.ID)
			return
		}

		kind := orchestration.ErrorKindTaskFailed
		if timeout > 0 && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			kind = orchestration.ErrorKindTaskTimeout
		}

		if attempt-1 < task.Retry.MaxRetries {
			sm.MarkRetry(task.ID)
			if !d.sleepBackoff(ctx, delay, task.Retry.Jitter) {
				sm.MarkCancelled(task.ID)
				return
			}
			delay = nextDelay(delay, task.Retry.BackoffMultiplier, task.Retry.MaxDelay)
			continue
		}

		sm.MarkFailed(task.ID, &orchestration.TaskError{Kind: kind, Message: execErr.Error()})
		return
	}
}

func effectiveTimeout(task orchestration.Task, wf orchestration.Workflow) time.Duration {
	taskTimeout := task.Timeout()
	switch {
	case taskTimeout > 0 && wf.DefaultTimeout > 0:
		if taskTimeout < wf.DefaultTimeout {
			return taskTimeout
		}
		return wf.DefaultTimeout
	case taskTimeout > 0:
		return taskTimeout
	default:
		return wf.DefaultTimeout
	}
}

func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if multiplier <= 0 {
		next = current
	}
	if max > 0 && next > max {
		next = max
	}
	return next
}

// sleepBackoff waits for delay (optionally jittered ±25%), returning
// false if ctx is cancelled first.
func (d *Dispatcher) sleepBackoff(ctx context.Context, delay time.Duration, jitter bool) bool {
	if delay < 0 {
		delay = 0
	}
	if jitter && delay > 0 {
		factor := 0.75 + rand.Float64()*0.5 // +/- 25%
		delay = time.Duration(float64(delay) * factor)
	}
	if delay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) resolveSkills(task orchestration.Task) (map[string]string, error) {
	if len(task.RequiredSkills) == 0 {
		return nil, nil
	}
	if d.skills == nil {
		return nil, orchestration.NewTaskError(orchestration.ErrorKindRequiredSkillMissing, task.ID,
			"task requires skills but no skill registry is configured").
			WithPayload([]string{})
	}
	loaded := make(map[string]string, len(task.RequiredSkills))
	for _, name := range task.RequiredSkills {
		body, ok := d.skills.Lookup(name)
		if !ok {
			return nil, orchestration.NewTaskError(orchestration.ErrorKindRequiredSkillMissing, task.ID,
				"required skill '"+name+"' not found").
				WithPayload(d.skills.Names())
		}
		loaded[name] = body
	}
	return loaded, nil
}

func (d *Dispatcher) dependencyOutputs(task orchestration.Task, sm *StateManager) map[string]orchestration.Output {
	if len(task.DependsOn) == 0 {
		return nil
	}
	snapshot := sm.Snapshot()
	out := make(map[string]orchestration.Output, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		if result, ok := snapshot.TaskResults[depID]; ok && result.Output != nil {
			out[depID] = *result.Output
		}
	}
	return out
}
