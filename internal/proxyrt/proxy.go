// Package proxyrt implements the Proxy object: the cross-runtime ambassador
// for a host-VM entity, with a local-slot cache, delegation on miss,
// doesNotUnderstand escalation, and per-proxy dispatch metrics.
//
// The differential-inheritance shape (local cache dominates, miss delegates
// to a remote master) is grounded on the same "check the fast local path,
// fall back to the authoritative remote" structure as hcsshim's
// internal/hcs process cache (a local handle table checked before falling
// back to a live HCS query), generalized here to arbitrary slot values
// instead of process handles.
package proxyrt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/log"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/logfields"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/metrics"
)

// ForwardKind selects the dispatch verb a Forwarder receives, mirroring the
// message names the proxy's forward_fn sends across the boundary.
type ForwardKind int

const (
	ForwardGet ForwardKind = iota
	ForwardSet
	ForwardRemove
	ForwardDidNotUnderstand
)

// NotUnderstoodError signals that the master has no slot of the requested
// name: the sentinel the Get path uses to decide whether to fall back to
// generic attribute access and then escalate doesNotUnderstand.
type NotUnderstoodError struct {
	Slot string
}

func (e *NotUnderstoodError) Error() string {
	return fmt.Sprintf("slot %q not understood", e.Slot)
}

// Forwarder is the single dispatch capability a Proxy holds: send a named
// operation to the master object and get back a value or an error. The
// implementation in internal/dispatchcore calls the host runtime directly,
// with no shared-memory or JSON round trip; tests may supply their own
// implementation instead.
type Forwarder interface {
	Forward(kind ForwardKind, masterHandle handles.Handle, slot string, value any) (any, error)
}

// DidNotUnderstandNotice is the payload the proxy forwards to the master
// when escalating a missing slot.
type DidNotUnderstandNotice struct {
	Slot     string
	ObjectID string
	Error    string
}

// Proxy is the FFI-visible ambassador for one pinned host object.
type Proxy struct {
	mu sync.Mutex

	masterHandle handles.Handle
	objectID     string
	localSlots   map[string]any
	metrics      *metrics.Record
	forward      Forwarder
	handleTable  *handles.Table

	builtins map[string]func(*Proxy) (any, error)
}

// New creates a proxy over an already-pinned masterHandle. objectID, if
// empty, is left empty — callers needing a stable id should generate one
// before calling New (see bridgecore, which uses google/uuid).
func New(masterHandle handles.Handle, objectID string, table *handles.Table, forward Forwarder) *Proxy {
	p := &Proxy{
		masterHandle: masterHandle,
		objectID:     objectID,
		localSlots:   make(map[string]any),
		metrics:      metrics.NewRecord(16),
		forward:      forward,
		handleTable:  table,
	}
	p.builtins = map[string]func(*Proxy) (any, error){
		"get_local_slots": func(p *Proxy) (any, error) { return p.LocalSlots(), nil },
		"object_id":       func(p *Proxy) (any, error) { return p.objectID, nil },
		"metrics":         func(p *Proxy) (any, error) { return p.Metrics(), nil },
	}
	return p
}

// validate implements the spec's "every public proxy operation first
// validates" rule: non-null self, non-null master handle, initialized
// local-slot and metrics state.
func (p *Proxy) validate() error {
	const op = "proxy_validate"
	if p == nil {
		return bridgeerr.New(op, bridgeerr.NullPointer, "proxy is nil")
	}
	if p.masterHandle == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "proxy has no master handle")
	}
	if p.localSlots == nil {
		return bridgeerr.New(op, bridgeerr.InvalidArgument, "proxy local_slots is nil")
	}
	if p.metrics == nil {
		return bridgeerr.New(op, bridgeerr.InvalidArgument, "proxy dispatch_metrics is nil")
	}
	return nil
}

// ObjectID returns the proxy's stable identifier.
func (p *Proxy) ObjectID() string { return p.objectID }

// MasterHandle returns the object handle this proxy ambassadors for.
func (p *Proxy) MasterHandle() handles.Handle { return p.masterHandle }

// Metrics returns a snapshot of this proxy's dispatch metrics.
func (p *Proxy) Metrics() metrics.Snapshot { return p.metrics.Snapshot() }

// Record returns the underlying mutable MetricsRecord, for registering this
// proxy's dispatch counters with a metrics.Collector.
func (p *Proxy) Record() *metrics.Record { return p.metrics }

// SetRecentLimit tunes the dispatch metrics ring buffer capacity.
func (p *Proxy) SetRecentLimit(n int) { p.metrics.SetRecentLimit(n) }

// LocalSlots returns a shallow copy of the proxy's local slot cache.
func (p *Proxy) LocalSlots() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.localSlots))
	for k, v := range p.localSlots {
		out[k] = v
	}
	return out
}

// dispatch is the choke-point metrics wrapper every forward invocation runs
// through: sample a clock, invoke fn, record the outcome, return fn's result
// unmodified.
func (p *Proxy) dispatch(message string, fn func() (any, error)) (any, error) {
	start := time.Now()
	result, err := fn()
	duration := time.Since(start)

	errMsg := ""
	success := err == nil
	if err != nil {
		errMsg = err.Error()
	}
	p.metrics.Observe(message, success, duration, errMsg)
	return result, err
}

// Get implements the proxy's differential-inheritance read path: local slot
// hit dominates; miss forwards to the master; a not-understood response
// falls back to generic (builtin) proxy attributes before escalating
// doesNotUnderstand.
func (p *Proxy) Get(name string) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if v, ok := p.localSlots[name]; ok {
		p.mu.Unlock()
		return cloneValue(v), nil
	}
	p.mu.Unlock()

	result, err := p.dispatch(name, func() (any, error) {
		return p.forward.Forward(ForwardGet, p.masterHandle, name, nil)
	})
	if err == nil {
		return result, nil
	}

	if !isMissingSlot(err) {
		return nil, bridgeerr.Wrap("proxy_get", bridgeerr.WorkerRuntimeError, err)
	}

	if builtin, ok := p.builtins[name]; ok {
		return builtin(p)
	}

	p.escalateDidNotUnderstand(name, err)
	return nil, bridgeerr.New("proxy_get", bridgeerr.NotFound, fmt.Sprintf("slot %q not found", name))
}

// isMissingSlot reports whether err signals an attribute-error-kind miss
// (as opposed to some other forward failure), per the spec's "attribute
// error exception or an error string containing 'not found'" rule.
func isMissingSlot(err error) bool {
	var notUnderstood *NotUnderstoodError
	if errors.As(err, &notUnderstood) {
		return true
	}
	return containsNotFound(err.Error())
}

func containsNotFound(s string) bool {
	const needle = "not found"
	if len(s) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// escalateDidNotUnderstand forwards a proxyDidNotUnderstand_ notice
// synchronously, bypassing dispatch: the notice is a side effect of the
// Get that already recorded its own failure through the choke-point, not a
// dispatch in its own right, so it must not add a second invocation to the
// record. The proxy does not retry automatically; failures here are
// diagnostic-only and suppressed.
func (p *Proxy) escalateDidNotUnderstand(slot string, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	notice := DidNotUnderstandNotice{Slot: slot, ObjectID: p.objectID, Error: errText}
	_, _ = p.forward.Forward(ForwardDidNotUnderstand, p.masterHandle, slot, notice)
}

// Set stores value in the local slot cache first, then propagates to the
// master. Propagation failure is logged-and-suppressed: the local store is
// the single source of truth for the running proxy.
func (p *Proxy) Set(name string, value any) error {
	if err := p.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.localSlots[name] = value
	p.mu.Unlock()

	if _, err := p.dispatch(name, func() (any, error) {
		return p.forward.Forward(ForwardSet, p.masterHandle, name, value)
	}); err != nil {
		log.L.WithError(err).WithField(logfields.Slot, name).Warn("proxy slot propagation to master failed")
	}
	return nil
}

// Remove deletes name from the local slot cache, raising NotFound if it was
// never set locally, then propagates removal to the master.
func (p *Proxy) Remove(name string) error {
	if err := p.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	_, existed := p.localSlots[name]
	delete(p.localSlots, name)
	p.mu.Unlock()

	if !existed {
		return bridgeerr.New("proxy_remove", bridgeerr.NotFound, fmt.Sprintf("slot %q was not set locally", name))
	}

	_, _ = p.dispatch(name, func() (any, error) {
		return p.forward.Forward(ForwardRemove, p.masterHandle, name, nil)
	})
	return nil
}

// Clone creates a fresh proxy sharing this proxy's master handle (under a
// new pin obtained via the shared handle table) but with empty local
// slots: the FFI expression of prototypal cloning.
func (p *Proxy) Clone(newObjectID string) (*Proxy, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.handleTable != nil {
		if err := p.handleTable.Pin(p.masterHandle); err != nil {
			return nil, bridgeerr.Wrap("proxy_clone", bridgeerr.WorkerRuntimeError, err)
		}
	}
	return New(p.masterHandle, newObjectID, p.handleTable, p.forward), nil
}

// Teardown releases the proxy's pin on its master handle when the
// worker-runtime-side refcount for this proxy reaches zero.
func (p *Proxy) Teardown() error {
	if p.handleTable == nil {
		return nil
	}
	return p.handleTable.Unpin(p.masterHandle)
}

// cloneValue returns a shallow copy of v suitable for returning from Get:
// maps and slices are copied so the caller can't mutate the proxy's
// internal cache through the returned reference.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
