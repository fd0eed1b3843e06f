// Package workerpool coordinates task submission to the worker runtime
// (RT-W) under its global-interpreter-lock quarantine: every call that
// touches runtime state is serialized through a single scoped lock, while
// admission into that serialized section is itself bounded by a weighted
// semaphore sized to max_workers, so callers queue rather than pile up
// unboundedly on the GIL.
//
// The operation-name-keyed dispatch for the well-known task shapes
// (ping, shared_memory, vsa_batch, ann_search, vector_operations) is grounded on
// the Mux/Handler pattern from the opengcs guest bridge's message router:
// instead of a registerable Mux keyed by message type, InProcessRuntime uses
// a plain switch keyed by operation string, since the bridge's operation set
// is the small fixed list in the task schema rather than an open handler
// registry — a Mux's registration/lookup machinery would be unused weight
// for five known cases.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/log"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/logfields"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/otelutil"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"
)

func logEntry(task wireformat.Task, duration time.Duration) logrus.Fields {
	return logrus.Fields{
		logfields.Operation: task.Operation(),
		logfields.Duration:  duration.String(),
	}
}

// Runtime is the worker-runtime collaborator the pool quarantines behind
// the GIL lock. This module has no binding to an out-of-process RT-W;
// internal/workerpool/inprocess.go provides the only implementation, an
// in-process one used by tests, by cmd/synbridge, and for the bridge's
// degraded mode.
type Runtime interface {
	Initialize(ctx context.Context, maxWorkers int) error
	Shutdown(ctx context.Context) error
	SubmitTask(ctx context.Context, task wireformat.Task) (wireformat.Response, error)
}

// Pool is the GIL-quarantined front for a Runtime. All of bridgecore's
// worker-facing operations go through a Pool rather than touching a Runtime
// directly.
type Pool struct {
	gil sync.Mutex // stands in for RT-W's global interpreter lock

	runtime    Runtime
	maxWorkers int
	sem        *semaphore.Weighted

	mu          sync.Mutex
	initialized bool
	active      int64
}

// New returns a Pool quarantining runtime, admitting at most maxWorkers
// concurrent callers into the GIL-guarded section.
func New(runtime Runtime, maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{
		runtime:    runtime,
		maxWorkers: maxWorkers,
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
	}
}

// Initialize boots the underlying runtime. Idempotent: a second call is a
// no-op returning nil, mirroring bridge_initialize's idempotency contract.
func (p *Pool) Initialize(ctx context.Context) error {
	const op = "initialize_workers"
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.gil.Lock()
	defer p.gil.Unlock()

	if err := p.runtime.Initialize(ctx, p.maxWorkers); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()

	log.L.WithField(logfields.MaxWorkers, p.maxWorkers).Info("worker runtime initialized")
	return nil
}

// Shutdown drains in-flight submissions (by acquiring every semaphore
// permit before proceeding) and tears down the runtime. Safe to call
// multiple times.
func (p *Pool) Shutdown(ctx context.Context) error {
	const op = "shutdown_workers"
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, int64(p.maxWorkers)); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.Timeout, err)
	}
	defer p.sem.Release(int64(p.maxWorkers))

	p.gil.Lock()
	defer p.gil.Unlock()

	if err := p.runtime.Shutdown(ctx); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
	}

	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()

	log.L.Info("worker runtime shut down")
	return nil
}

// Submit admits the caller (bounded by max_workers), acquires the GIL, and
// forwards task to the runtime, returning its response. Every
// worker-touching facade operation funnels through here.
func (p *Pool) Submit(ctx context.Context, task wireformat.Task) (wireformat.Response, error) {
	const op = "submit_worker_task"

	p.mu.Lock()
	ready := p.initialized
	p.mu.Unlock()
	if !ready {
		return nil, bridgeerr.New(op, bridgeerr.NotInitialized, "worker runtime is not initialized")
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, bridgeerr.Wrap(op, bridgeerr.Timeout, err)
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.sem.Release(1)
	}()

	spanCtx, span := otelutil.StartSpan(ctx, "workerpool.submit", otelutil.WithClientSpanKind)

	p.gil.Lock()
	start := time.Now()
	resp, err := p.runtime.SubmitTask(spanCtx, task)
	duration := time.Since(start)
	p.gil.Unlock()

	otelutil.SetSpanStatus(span, err)
	span.End()

	log.L.WithFields(logEntry(task, duration)).Debug("worker task submitted")

	if err != nil {
		return nil, bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
	}
	return resp, nil
}

// ActiveWorkers reports the number of submissions currently admitted past
// the semaphore, for bridge_status.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.active)
}

// Initialized reports whether Initialize has completed without an
// intervening Shutdown.
func (p *Pool) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// MaxWorkers returns the configured worker ceiling.
func (p *Pool) MaxWorkers() int { return p.maxWorkers }
