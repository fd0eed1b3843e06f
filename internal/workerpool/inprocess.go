package workerpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"
)

// InProcessRuntime is a reference Runtime implementation that answers the
// well-known operations directly in Go, with no RT-W process behind it. It
// backs unit tests, the bridge that cmd/synbridge builds, and the bridge's
// degraded "stub mode", where the real
// worker dispatcher module could not be imported but the bridge must keep
// accepting calls and reporting failures through the normal response
// envelope rather than crashing.
type InProcessRuntime struct {
	mu          sync.Mutex
	started     bool
	maxWorkers  int
	segments    map[string]int64
	vectors     map[int64]bool
	stubFailure bool // when true, every SubmitTask fails; the degraded-mode case
}

// NewInProcessRuntime returns a runtime with no operations yet handled.
// Pass stubFailure=true to model the degraded-mode path where the worker
// dispatcher module's optional symbols were never found.
func NewInProcessRuntime(stubFailure bool) *InProcessRuntime {
	return &InProcessRuntime{
		segments:    make(map[string]int64),
		vectors:     make(map[int64]bool),
		stubFailure: stubFailure,
	}
}

// Degraded reports whether this runtime models the bridge's degraded stub
// mode, satisfying the bridgecore.Degradable probe.
func (r *InProcessRuntime) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stubFailure
}

func (r *InProcessRuntime) Initialize(_ context.Context, maxWorkers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.maxWorkers = maxWorkers
	return nil
}

func (r *InProcessRuntime) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return nil
}

func (r *InProcessRuntime) SubmitTask(_ context.Context, task wireformat.Task) (wireformat.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stubFailure {
		return wireformat.Fail("worker dispatcher unavailable: bridge is in degraded mode"), nil
	}
	if !r.started {
		return wireformat.Fail("worker runtime is not started"), nil
	}

	switch task.Operation() {
	case "ping":
		return wireformat.Ok(nil), nil
	case "shared_memory":
		return r.handleSharedMemory(task)
	case "vsa_batch":
		return r.handleVSABatch(task)
	case "ann_search":
		return r.handleANNSearch(task)
	case "vector_operations":
		return r.handleVectorOperations(task)
	default:
		return wireformat.Fail(fmt.Sprintf("unknown operation %q", task.Operation())), nil
	}
}

func (r *InProcessRuntime) handleSharedMemory(task wireformat.Task) (wireformat.Response, error) {
	memOp, _ := task["memory_operation"].(string)
	switch memOp {
	case "create":
		size, _ := task["size"].(float64)
		name := fmt.Sprintf("worker-seg-%d", len(r.segments)+1)
		r.segments[name] = int64(size)
		return wireformat.Ok(map[string]any{"name": name, "size": size}), nil
	case "destroy":
		name, _ := task["name"].(string)
		if _, ok := r.segments[name]; !ok {
			return wireformat.Fail(fmt.Sprintf("segment %q not found", name)), nil
		}
		delete(r.segments, name)
		return wireformat.Ok(nil), nil
	default:
		return wireformat.Fail(fmt.Sprintf("unknown memory_operation %q", memOp)), nil
	}
}

func (r *InProcessRuntime) handleVSABatch(task wireformat.Task) (wireformat.Response, error) {
	batchSize, _ := task["batch_size"].(float64)
	return wireformat.Ok(map[string]any{"processed": batchSize}), nil
}

func (r *InProcessRuntime) handleANNSearch(task wireformat.Task) (wireformat.Response, error) {
	k, _ := task["k"].(float64)
	return wireformat.Ok(map[string]any{"k": k, "results": []any{}}), nil
}

func (r *InProcessRuntime) handleVectorOperations(task wireformat.Task) (wireformat.Response, error) {
	vectorID, _ := task["vector_id"].(float64)
	op, _ := task["vector_operation"].(string)
	id := int64(vectorID)
	switch op {
	case "add":
		r.vectors[id] = true
	case "update":
		if !r.vectors[id] {
			return wireformat.Fail(fmt.Sprintf("vector %d not found", id)), nil
		}
	case "remove":
		if !r.vectors[id] {
			return wireformat.Fail(fmt.Sprintf("vector %d not found", id)), nil
		}
		delete(r.vectors, id)
	default:
		return wireformat.Fail(fmt.Sprintf("unknown vector_operation %q", op)), nil
	}
	return wireformat.Ok(map[string]any{"vector_id": vectorID}), nil
}
