package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"golang.org/x/sync/semaphore"
)

// WorkerRouting declares one worker type's advertised capabilities,
// priority, and concurrency budget.
type WorkerRouting struct {
	WorkerType         string
	Capabilities       []orchestration.Capability
	Priority           int
	MaxConcurrentTasks int64
}

// RouteOutcome is the result of selecting a worker for a task.
type RouteOutcome int

const (
	// RouteReady means a worker type was selected and it currently has a
	// free slot; the slot itself is taken by Acquire.
	RouteReady RouteOutcome = iota
	// RouteWaiting means candidates exist but are all at their concurrency cap.
	RouteWaiting
	// RouteUnroutable means no routing could ever satisfy the task.
	RouteUnroutable
)

// Router selects a worker type for a task, honoring capability match,
// explicit worker-type overrides, priority ordering, and per-worker-type
// concurrency budgets. Generalized from CapabilityRouter's single-lookup
// table into the spec's multi-candidate sort-and-select.
type Router struct {
	mu       sync.Mutex
	logger   *slog.Logger
	routings []WorkerRouting
	sems     map[string]*semaphore.Weighted
	load     map[string]int64
}

// NewRouter builds a Router from a list of worker routings.
func NewRouter(logger *slog.Logger, routings []WorkerRouting) *Router {
	r := &Router{
		logger:   logger,
		routings: routings,
		sems:     make(map[string]*semaphore.Weighted, len(routings)),
		load:     make(map[string]int64, len(routings)),
	}
	for _, wr := range routings {
		limit := wr.MaxConcurrentTasks
		if limit < 1 {
			limit = 1
		}
		r.sems[wr.WorkerType] = semaphore.NewWeighted(limit)
	}
	return r
}

func hasAllCapabilities(routing WorkerRouting, required []orchestration.Capability) bool {
	have := make(map[orchestration.Capability]bool, len(routing.Capabilities))
	for _, c := range routing.Capabilities {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

// Select filters candidates by capability, sorts by priority/load/id, and
// reports whether the winning candidate currently has a free slot
// (RouteReady), is merely saturated (RouteWaiting), or whether nothing
// could ever match (RouteUnroutable).
func (r *Router) Select(task orchestration.Task) (workerType string, outcome RouteOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := r.routings
	if task.WorkerType != "" {
		filtered := make([]WorkerRouting, 0, 1)
		for _, wr := range candidates {
			if wr.WorkerType == task.WorkerType {
				filtered = append(filtered, wr)
			}
		}
		candidates = filtered
	} else {
		filtered := make([]WorkerRouting, 0, len(candidates))
		for _, wr := range candidates {
			if hasAllCapabilities(wr, task.RequiredCapabilities) {
				filtered = append(filtered, wr)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return "", RouteUnroutable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		li, lj := r.load[candidates[i].WorkerType], r.load[candidates[j].WorkerType]
		if li != lj {
			return li < lj
		}
		return candidates[i].WorkerType < candidates[j].WorkerType
	})

	for _, wr := range candidates {
		if r.load[wr.WorkerType] < wr.MaxConcurrentTasks {
			return wr.WorkerType, RouteReady
		}
	}
	// Every candidate exists but is saturated: a slot may free up later.
	return candidates[0].WorkerType, RouteWaiting
}

// Acquire blocks (cooperatively) until a slot on workerType frees or ctx
// is cancelled, then increments the load counter used for sort ordering.
func (r *Router) Acquire(ctx context.Context, workerType string) error {
	sem, ok := r.semFor(workerType)
	if !ok {
		return orchestration.NewOrchestrationError(orchestration.ErrorKindNoWorkerAvailable,
			"no routing registered for worker type "+workerType)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	r.mu.Lock()
	r.load[workerType]++
	r.mu.Unlock()
	return nil
}

// Release frees a previously acquired slot on workerType. It is safe to
// call from any exit path, including cancellation.
func (r *Router) Release(workerType string) {
	sem, ok := r.semFor(workerType)
	if !ok {
		return
	}
	r.mu.Lock()
	if r.load[workerType] > 0 {
		r.load[workerType]--
	}
	r.mu.Unlock()
	sem.Release(1)
}

func (r *Router) semFor(workerType string) (*semaphore.Weighted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.sems[workerType]
	return sem, ok
}

// TotalCapacity returns the sum of every routing's declared max
// concurrency.
func (r *Router) TotalCapacity() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, wr := range r.routings {
		total += wr.MaxConcurrentTasks
	}
	return total
}

// DefaultWorkerRoutings mirrors original_source/.../routing.py's
// create_default_routing seven built-in agent types.
func DefaultWorkerRoutings() []WorkerRouting {
	return []WorkerRouting{
		{WorkerType: "general-purpose", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 5},
		{WorkerType: "code-analyzer", Capabilities: []orchestration.Capability{orchestration.CapabilityCodeAnalysis, orchestration.CapabilityDebugging}, Priority: 5, MaxConcurrentTasks: 3},
		{WorkerType: "code-generator", Capabilities: []orchestration.Capability{orchestration.CapabilityCodeGeneration}, Priority: 5, MaxConcurrentTasks: 3},
		{WorkerType: "test-specialist", Capabilities: []orchestration.Capability{orchestration.CapabilityTesting}, Priority: 5, MaxConcurrentTasks: 3},
		{WorkerType: "doc-writer", Capabilities: []orchestration.Capability{orchestration.CapabilityDocumentation}, Priority: 3, MaxConcurrentTasks: 2},
		{WorkerType: "data-processor", Capabilities: []orchestration.Capability{orchestration.CapabilityDataProcessing, orchestration.CapabilityFileOps}, Priority: 4, MaxConcurrentTasks: 3},
		{WorkerType: "researcher", Capabilities: []orchestration.Capability{orchestration.CapabilityResearch, orchestration.CapabilityAPIIntegration}, Priority: 4, MaxConcurrentTasks: 2},
	}
}
