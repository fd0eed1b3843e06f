// Package handles implements the cross-runtime object handle table: opaque
// identifiers for host-VM objects made visible to the worker runtime, and
// the reference-counted pin set that keeps the host GC from reclaiming them
// out from under a live proxy.
//
// The pattern is grounded on hcsshim's internal/uvm VSMB/VPMem share
// tracking (internal/uvm/vsmb.go: a mutex-guarded map entry carrying its own
// refCount, incremented on each new attach and released back to zero before
// the underlying resource is torn down) — here re-targeted at object
// identity pinning instead of VM device attachment lifetime.
package handles

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
)

// Handle is the opaque identifier the ABI hands to the host VM. Zero is
// never valid (mirrors a null ObjectHandle).
type Handle uint64

// Retainer is the host VM's GC retain set, the collaborator pin_object
// registers with and unpin_object releases. A degraded-mode host build
// without a retain subsystem available can leave Retainer nil; Table then
// records pin intent without executing it, matching the spec's degraded-mode
// carve-out for pin_object.
type Retainer interface {
	Retain(obj any) error
	Release(obj any) error
}

type entry struct {
	obj      any
	refcount int64
}

// Table is the process-global object handle table. One Table backs the
// whole bridge; bridgecore.Bridge owns it. Bridge.Shutdown does not clear
// it: registered handles and their pin counts survive a shutdown.
type Table struct {
	mu       sync.Mutex
	entries  map[Handle]*entry
	retainer Retainer
	next     uint64
}

// New returns an empty handle table. retainer may be nil, in which case pins
// are recorded but never forwarded to a host GC (degraded mode).
func New(retainer Retainer) *Table {
	return &Table{entries: make(map[Handle]*entry), retainer: retainer}
}

// Register allocates a fresh handle for obj with a refcount of zero; callers
// typically follow with Pin to bring it to one.
func (t *Table) Register(obj any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := Handle(t.next)
	t.entries[h] = &entry{obj: obj}
	return h
}

// Pin increments h's reference count, registering obj with the host
// retainer on the transition from zero to one. Null handles (zero) fail
// with InvalidHandle per the spec.
func (t *Table) Pin(h Handle) error {
	const op = "pin_object"
	if h == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "handle is null")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, fmt.Sprintf("handle %d is not registered", h))
	}
	if atomic.AddInt64(&e.refcount, 1) == 1 && t.retainer != nil {
		if err := t.retainer.Retain(e.obj); err != nil {
			atomic.AddInt64(&e.refcount, -1)
			return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
		}
	}
	return nil
}

// Unpin decrements h's reference count, releasing it from the host retainer
// when the count reaches zero. Unpinning past zero is an InvalidHandle
// error rather than going negative.
func (t *Table) Unpin(h Handle) error {
	const op = "unpin_object"
	if h == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "handle is null")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, fmt.Sprintf("handle %d is not registered", h))
	}
	if atomic.LoadInt64(&e.refcount) <= 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, fmt.Sprintf("handle %d is not pinned", h))
	}
	if atomic.AddInt64(&e.refcount, -1) == 0 && t.retainer != nil {
		if err := t.retainer.Release(e.obj); err != nil {
			return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
		}
	}
	return nil
}

// Resolve returns the object registered under h.
func (t *Table) Resolve(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, bridgeerr.New("resolve_handle", bridgeerr.InvalidHandle, fmt.Sprintf("handle %d is not registered", h))
	}
	return e.obj, nil
}

// PinCount reports h's current reference count, for tests and status
// introspection; unregistered handles report 0.
func (t *Table) PinCount(h Handle) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&e.refcount)
}

// Forget removes h from the table unconditionally, regardless of refcount.
// Used when a proxy's owning side tears down and the handle's lifetime ends
// with it rather than through ordinary unpin calls.
func (t *Table) Forget(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, h)
}

// Len reports the number of registered handles, live or not, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
