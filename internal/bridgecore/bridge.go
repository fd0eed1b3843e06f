// Package bridgecore implements the Bridge: the top-level object that owns
// every bridge singleton (worker pool, shared-memory registry, handle
// table, dispatch core) and exposes the operations the C-ABI facade calls
// into. It is the one place that drives the bridge's lifecycle state
// machine, and it writes every failure of its own operations to the
// thread-local error store (the facade in cmd/synbridge records the failures
// of its own argument checks there as well).
//
// Grounded on hcsshim's internal/hcs System type: one struct owning a
// handle plus the collaborators needed to operate it, with every public
// method validating state first and translating failures into the
// package's error type before returning — here HcsError/SystemError become
// bridgeerr.BridgeError, and the HCS system handle becomes the worker pool
// plus registries this Bridge owns.
package bridgecore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/dispatchcore"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/hostvm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/log"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/logfields"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/metrics"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/proxyrt"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/shm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/workerpool"
)

// Config is BridgeConfig from the data model: the caller-supplied
// initialization parameters.
type Config struct {
	MaxWorkers int
	LogSink    func(level, message string)
}

// Degradable is implemented by a workerpool.Runtime that can report at
// initialize time whether its optional callables (initialize_workers,
// shutdown_workers, submit_worker_task) were actually found — the Go analog
// of the spec's "two candidate import paths" probe. A Runtime that does not
// implement it is assumed fully capable.
type Degradable interface {
	Degraded() bool
}

// Status mirrors bridge_status's output structure.
type Status struct {
	Initialized       bool
	State             State
	MaxWorkers        int
	ActiveWorkers     int
	LastErrorSnapshot string
}

// Bridge owns every bridge-process singleton: the worker-runtime lock (via
// workerpool.Pool's own GIL), the shared-memory registry, the object handle
// table, and the dispatch core. The registry, handle table and dispatch core
// are built once by New and are not rebuilt by Initialize, which replaces
// only the worker pool. Shutdown drops the registry's mappings and segments
// and the proxy map; it leaves the handle table's entries in place.
type Bridge struct {
	mu    sync.Mutex
	state State

	config Config

	runtime    workerpool.Runtime
	handles    *handles.Table
	shm        *shm.Registry
	pool       *workerpool.Pool
	dispatcher *dispatchcore.Dispatcher
	host       hostvm.Runtime

	proxiesMu sync.Mutex
	proxies   map[string]*proxyrt.Proxy

	metrics *metrics.Collector
}

// New constructs a Bridge over runtime (the RT-W collaborator) and host
// (the VM-H collaborator). It does not boot anything; call Initialize.
func New(runtime workerpool.Runtime, host hostvm.Runtime, retainer handles.Retainer, shmBaseDir string) *Bridge {
	table := handles.New(retainer)
	registry := shm.New(shmBaseDir)
	return &Bridge{
		state:      Uninitialized,
		runtime:    runtime,
		handles:    table,
		shm:        registry,
		pool:       workerpool.New(runtime, 1),
		dispatcher: dispatchcore.New(table, host, registry),
		host:       host,
		proxies:    make(map[string]*proxyrt.Proxy),
		metrics:    metrics.NewCollector(),
	}
}

// PrometheusCollector exposes every live proxy's dispatch metrics as a
// prometheus.Collector the embedding host process can register with its own
// registry. The bridge itself never starts an HTTP server for this; scraping
// surfaces are the host's responsibility.
func (b *Bridge) PrometheusCollector() *metrics.Collector {
	return b.metrics
}

// Initialize boots the worker runtime and records max_workers. Idempotent:
// calling it again while Ready or Degraded is a no-op success.
func (b *Bridge) Initialize(ctx context.Context, cfg Config) error {
	const op = "bridge_initialize"
	b.mu.Lock()
	if b.state == Ready || b.state == Degraded {
		b.mu.Unlock()
		bridgeerr.Clear()
		return nil
	}
	if cfg.MaxWorkers < 1 {
		b.mu.Unlock()
		err := bridgeerr.New(op, bridgeerr.InvalidArgument, "max_workers must be >= 1")
		bridgeerr.Set(err)
		return err
	}
	b.config = cfg
	b.state = Initializing
	maxWorkers := cfg.MaxWorkers
	pool := workerpool.New(b.runtime, maxWorkers)
	b.pool = pool
	b.mu.Unlock()

	if err := pool.Initialize(ctx); err != nil {
		b.mu.Lock()
		b.state = Uninitialized
		b.mu.Unlock()
		wrapped := bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
		bridgeerr.Set(wrapped)
		return wrapped
	}

	b.mu.Lock()
	if d, ok := b.runtime.(Degradable); ok && d.Degraded() {
		b.state = Degraded
	} else {
		b.state = Ready
	}
	finalState := b.state
	b.mu.Unlock()

	log.L.WithFields(map[string]interface{}{
		logfields.MaxWorkers: maxWorkers,
		logfields.Result:     finalState.String(),
	}).Info("bridge initialized")

	bridgeerr.Clear()
	return nil
}

// Shutdown drains mappings, stops the worker pool, and returns the bridge
// to Uninitialized. Safe to call multiple times. It does not tear down the
// host VM.
func (b *Bridge) Shutdown(ctx context.Context) error {
	const op = "bridge_shutdown"
	b.mu.Lock()
	if b.state == Uninitialized {
		b.mu.Unlock()
		bridgeerr.Clear()
		return nil
	}
	b.state = ShuttingDown
	pool := b.pool
	b.mu.Unlock()

	b.shm.Shutdown()

	if err := pool.Shutdown(ctx); err != nil {
		wrapped := bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
		bridgeerr.Set(wrapped)
		return wrapped
	}

	b.proxiesMu.Lock()
	b.proxies = make(map[string]*proxyrt.Proxy)
	b.proxiesMu.Unlock()

	b.mu.Lock()
	b.state = Uninitialized
	b.mu.Unlock()

	log.L.Info("bridge shut down")
	bridgeerr.Clear()
	return nil
}

// Status fills the caller-visible status structure.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	state := b.state
	pool := b.pool
	b.mu.Unlock()

	kind, msg := bridgeerr.Get()
	snapshot := msg
	if kind != bridgeerr.Success && msg == "" {
		snapshot = kind.String()
	}

	return Status{
		Initialized:       state == Ready || state == Degraded,
		State:             state,
		MaxWorkers:        pool.MaxWorkers(),
		ActiveWorkers:     pool.ActiveWorkers(),
		LastErrorSnapshot: snapshot,
	}
}

// GetLastError implements bridge_get_last_error: returns the calling OS
// thread's last recorded taxonomy code and message.
func GetLastError() (bridgeerr.Kind, string) {
	return bridgeerr.Get()
}

// ClearError implements bridge_clear_error.
func ClearError() {
	bridgeerr.Clear()
}

// requireReady fails with NotInitialized outside Ready/Degraded, and with
// AlreadyInitialized is never needed here since only Initialize checks that
// transition explicitly.
func (b *Bridge) requireReady(op string) error {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != Ready && state != Degraded {
		return bridgeerr.New(op, bridgeerr.NotInitialized, "bridge is not initialized")
	}
	return nil
}

// record is the two-call error protocol's write side: every facade
// operation funnels its result through here so success clears the
// thread-local slot and failure populates it, exactly once, regardless of
// which internal layer produced the error.
func record(err error) error {
	bridgeerr.Set(err)
	return err
}

// RegisterObject registers obj with the handle table and returns its
// handle, unpinned. Used by VM-H bindings (or tests) to make a host object
// visible to the worker runtime before pinning/proxying it.
func (b *Bridge) RegisterObject(obj any) handles.Handle {
	return b.handles.Register(obj)
}

// PinObject implements bridge_pin_object.
func (b *Bridge) PinObject(h handles.Handle) error {
	return record(b.handles.Pin(h))
}

// UnpinObject implements bridge_unpin_object.
func (b *Bridge) UnpinObject(h handles.Handle) error {
	return record(b.handles.Unpin(h))
}

// CreateSharedMemory implements bridge_create_shared_memory.
func (b *Bridge) CreateSharedMemory(size int64) (*shm.Segment, error) {
	seg, err := b.shm.Create(size, "vm-h")
	return seg, record(err)
}

// DestroySharedMemory implements bridge_destroy_shared_memory.
func (b *Bridge) DestroySharedMemory(name string) error {
	return record(b.shm.Destroy(name))
}

// MapSharedMemory implements bridge_map_shared_memory.
func (b *Bridge) MapSharedMemory(name string) ([]byte, error) {
	data, err := b.shm.Map(name)
	return data, record(err)
}

// UnmapSharedMemory implements bridge_unmap_shared_memory.
func (b *Bridge) UnmapSharedMemory(name string) error {
	return record(b.shm.Unmap(name))
}

// SendMessage implements bridge_send_message.
func (b *Bridge) SendMessage(target handles.Handle, messageName string, args, result *dispatchcore.Location) error {
	if err := b.requireReady("send_message"); err != nil {
		return record(err)
	}
	return record(b.dispatcher.SendMessage(target, messageName, args, result))
}

// GetSlot implements bridge_get_slot.
func (b *Bridge) GetSlot(target handles.Handle, slotName string, result *dispatchcore.Location) error {
	if err := b.requireReady("get_slot"); err != nil {
		return record(err)
	}
	return record(b.dispatcher.GetSlot(target, slotName, result))
}

// SetSlot implements bridge_set_slot.
func (b *Bridge) SetSlot(target handles.Handle, slotName string, value *dispatchcore.Location) error {
	if err := b.requireReady("set_slot"); err != nil {
		return record(err)
	}
	return record(b.dispatcher.SetSlot(target, slotName, value))
}

// SubmitJSONTask implements bridge_submit_json_task: read the request
// object from requestLoc, submit it to the worker pool, write the response
// to responseLoc.
func (b *Bridge) SubmitJSONTask(ctx context.Context, requestLoc, responseLoc dispatchcore.Location) error {
	const op = "submit_json_task"
	if err := b.requireReady(op); err != nil {
		return record(err)
	}

	var decoded any
	var decodeErr error
	viewErr := b.shm.WithView(requestLoc.Name, requestLoc.Offset, requestLoc.Size, func(raw []byte) error {
		decoded, decodeErr = wireformat.FromJSON(trimTrailingNul(raw))
		return nil
	})
	if viewErr != nil {
		return record(bridgeerr.Wrap(op, bridgeerr.SharedMemory, viewErr))
	}
	if decodeErr != nil {
		return record(bridgeerr.Wrap(op, bridgeerr.InvalidArgument, decodeErr))
	}
	taskMap, ok := decoded.(map[string]any)
	if !ok {
		return record(bridgeerr.New(op, bridgeerr.InvalidArgument, "request payload is not a JSON object"))
	}
	task := wireformat.Task(taskMap)
	wireformat.EnsureTraceContext(task)

	resp, err := b.pool.Submit(ctx, task)
	if err != nil {
		return record(err)
	}

	encoded, err := wireformat.ToJSON(map[string]any(resp))
	if err != nil {
		return record(bridgeerr.Wrap(op, bridgeerr.InvalidArgument, err))
	}
	encoded = append(encoded, 0)

	if int64(len(encoded)) > responseLoc.Size {
		return record(bridgeerr.New(op, bridgeerr.SharedMemory, "response segment too small"))
	}
	viewErr = b.shm.WithView(responseLoc.Name, responseLoc.Offset, responseLoc.Size, func(view []byte) error {
		copy(view, encoded)
		return nil
	})
	if viewErr != nil {
		return record(bridgeerr.Wrap(op, bridgeerr.SharedMemory, viewErr))
	}
	return record(nil)
}

// ExecuteVSABatch implements bridge_execute_vsa_batch.
func (b *Bridge) ExecuteVSABatch(ctx context.Context, operationName string, batchSize int, inputShm, outputShm string) (wireformat.Response, error) {
	if err := b.requireReady("execute_vsa_batch"); err != nil {
		return nil, record(err)
	}
	resp, err := b.pool.Submit(ctx, workerpool.VSABatchTask(operationName, batchSize, inputShm, outputShm))
	return resp, record(err)
}

// AnnSearch implements bridge_ann_search.
func (b *Bridge) AnnSearch(ctx context.Context, k int, similarityThreshold float64, queryShm, resultsShm string) (wireformat.Response, error) {
	if err := b.requireReady("ann_search"); err != nil {
		return nil, record(err)
	}
	resp, err := b.pool.Submit(ctx, workerpool.ANNSearchTask(k, similarityThreshold, queryShm, resultsShm))
	return resp, record(err)
}

// AddVector / UpdateVector / RemoveVector implement the index-mutation
// helpers, all thin adapters over a vector_operations task.
func (b *Bridge) AddVector(ctx context.Context, vectorID int64, cfg workerpool.VectorOperationConfig) (wireformat.Response, error) {
	return b.vectorOp(ctx, "put", "add", vectorID, cfg)
}

func (b *Bridge) UpdateVector(ctx context.Context, vectorID int64, cfg workerpool.VectorOperationConfig) (wireformat.Response, error) {
	return b.vectorOp(ctx, "put", "update", vectorID, cfg)
}

func (b *Bridge) RemoveVector(ctx context.Context, vectorID int64, cfg workerpool.VectorOperationConfig) (wireformat.Response, error) {
	return b.vectorOp(ctx, "remove", "remove", vectorID, cfg)
}

func (b *Bridge) vectorOp(ctx context.Context, action, vectorOperation string, vectorID int64, cfg workerpool.VectorOperationConfig) (wireformat.Response, error) {
	if err := b.requireReady("vector_operation"); err != nil {
		return nil, record(err)
	}
	resp, err := b.pool.Submit(ctx, workerpool.VectorOperationTask(action, vectorOperation, vectorID, cfg))
	return resp, record(err)
}

// ProxyFromHandle implements proxy_from_handle: pins masterHandle and
// returns a new Proxy ambassadoring it, generating an object id via
// google/uuid if id is empty.
func (b *Bridge) ProxyFromHandle(masterHandle handles.Handle, id string) (*proxyrt.Proxy, error) {
	if err := b.handles.Pin(masterHandle); err != nil {
		return nil, record(err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := proxyrt.New(masterHandle, id, b.handles, b.dispatcher)

	b.proxiesMu.Lock()
	b.proxies[id] = p
	b.proxiesMu.Unlock()
	b.metrics.Register(id, p.Record())

	bridgeerr.Clear()
	return p, nil
}

// Proxy looks up a previously created proxy by object id.
func (b *Bridge) Proxy(id string) (*proxyrt.Proxy, bool) {
	b.proxiesMu.Lock()
	defer b.proxiesMu.Unlock()
	p, ok := b.proxies[id]
	return p, ok
}

// ReleaseProxy tears a proxy down (releasing its pin) and removes it from
// the bridge's registry, mirroring worker-runtime-side refcounting hitting
// zero.
func (b *Bridge) ReleaseProxy(id string) error {
	b.proxiesMu.Lock()
	p, ok := b.proxies[id]
	delete(b.proxies, id)
	b.proxiesMu.Unlock()
	if !ok {
		return record(bridgeerr.New("release_proxy", bridgeerr.NotFound, "proxy id not registered"))
	}
	b.metrics.Unregister(id)
	return record(p.Teardown())
}

// State reports the bridge's current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func trimTrailingNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
