package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

func TestRouterSelectFiltersByCapability(t *testing.T) {
	r := NewRouter(testLogger(), DefaultWorkerRoutings())
	workerType, outcome := r.Select(orchestration.Task{
		ID:                   "t1",
		RequiredCapabilities: []orchestration.Capability{orchestration.CapabilityTesting},
	})
	assert.Equal(t, RouteReady, outcome)
	assert.Equal(t, "test-specialist", workerType)
}

func TestRouterSelectHonorsExplicitWorkerType(t *testing.T) {
	r := NewRouter(testLogger(), DefaultWorkerRoutings())
	workerType, outcome := r.Select(orchestration.Task{ID: "t1", WorkerType: "doc-writer"})
	assert.Equal(t, RouteReady, outcome)
	assert.Equal(t, "doc-writer", workerType)
}

func TestRouterSelectUnroutableWhenNoCandidateMatches(t *testing.T) {
	r := NewRouter(testLogger(), DefaultWorkerRoutings())
	_, outcome := r.Select(orchestration.Task{ID: "t1", WorkerType: "nonexistent-type"})
	assert.Equal(t, RouteUnroutable, outcome)
}

func TestRouterSelectPrefersHigherPriority(t *testing.T) {
	routings := []WorkerRouting{
		{WorkerType: "low", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 5},
		{WorkerType: "high", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 10, MaxConcurrentTasks: 5},
	}
	r := NewRouter(testLogger(), routings)
	workerType, outcome := r.Select(orchestration.Task{ID: "t1", RequiredCapabilities: []orchestration.Capability{orchestration.CapabilityGeneral}})
	assert.Equal(t, RouteReady, outcome)
	assert.Equal(t, "high", workerType)
}

func TestRouterSelectReturnsWaitingWhenSaturated(t *testing.T) {
	routings := []WorkerRouting{
		{WorkerType: "solo", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 1},
	}
	r := NewRouter(testLogger(), routings)
	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "solo"))

	_, outcome := r.Select(orchestration.Task{ID: "t1", RequiredCapabilities: []orchestration.Capability{orchestration.CapabilityGeneral}})
	assert.Equal(t, RouteWaiting, outcome)

	r.Release("solo")
	_, outcome = r.Select(orchestration.Task{ID: "t1", RequiredCapabilities: []orchestration.Capability{orchestration.CapabilityGeneral}})
	assert.Equal(t, RouteReady, outcome)
}

func TestRouterAcquireBlocksUntilReleaseOrCancel(t *testing.T) {
	routings := []WorkerRouting{
		{WorkerType: "solo", Capabilities: []orchestration.Capability{orchestration.CapabilityGeneral}, Priority: 1, MaxConcurrentTasks: 1},
	}
	r := NewRouter(testLogger(), routings)
	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "solo"))

	blockedCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Acquire(blockedCtx, "solo")
	assert.Error(t, err)

	r.Release("solo")
	require.NoError(t, r.Acquire(context.Background(), "solo"))
}

func TestRouterAcquireUnknownWorkerType(t *testing.T) {
	r := NewRouter(testLogger(), DefaultWorkerRoutings())
	err := r.Acquire(context.Background(), "ghost-worker")
	require.Error(t, err)
	var oe *orchestration.OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orchestration.ErrorKindNoWorkerAvailable, oe.Kind)
}

func TestRouterTotalCapacitySumsAllRoutings(t *testing.T) {
	r := NewRouter(testLogger(), DefaultWorkerRoutings())
	var expected int64
	for _, wr := range DefaultWorkerRoutings() {
		expected += wr.MaxConcurrentTasks
	}
	assert.Equal(t, expected, r.TotalCapacity())
}
