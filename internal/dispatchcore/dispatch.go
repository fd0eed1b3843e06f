// Package dispatchcore implements the bridge's message/slot dispatch
// operations (§4.5 of the bridge's interface contract): send_message,
// get_slot, and set_slot. Arguments and results cross the shared-memory
// boundary as UTF-8 JSON; this package owns decoding/encoding them and
// routing the decoded values to the host-VM collaborator.
//
// It also implements proxyrt.Forwarder directly against internal/hostvm,
// the in-process alternative the bridge's design notes call out in place
// of a full shared-memory round trip for the proxy's internal forward
// calls, since the proxy already operates on host values rather than raw
// bytes.
package dispatchcore

import (
	"fmt"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/hostvm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/proxyrt"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/shm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"
)

// Location names a shared-memory handle's extent, mirroring the ABI's
// SharedMemoryHandle (name, offset, size).
type Location struct {
	Name   string
	Offset int64
	Size   int64
}

// Dispatcher wires the shared-memory registry and the host-VM runtime
// together to implement the facade's message/slot operations.
type Dispatcher struct {
	Handles *handles.Table
	Host    hostvm.Runtime
	Shm     *shm.Registry
}

// New returns a Dispatcher over the given collaborators.
func New(table *handles.Table, host hostvm.Runtime, registry *shm.Registry) *Dispatcher {
	return &Dispatcher{Handles: table, Host: host, Shm: registry}
}

// readArgs decodes a JSON array from loc into an ordered host-value slice.
// A nil loc means a zero-arg message per the spec's "args JSON is optional"
// rule.
func (d *Dispatcher) readArgs(loc *Location) ([]any, error) {
	if loc == nil {
		return nil, nil
	}
	var list []any
	err := d.Shm.WithView(loc.Name, loc.Offset, loc.Size, func(raw []byte) error {
		v, err := wireformat.FromJSON(trimTrailingNul(raw))
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		l, ok := v.([]any)
		if !ok {
			return fmt.Errorf("dispatchcore: args payload is not a JSON array")
		}
		list = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// writeResult serializes v as JSON with a trailing NUL into loc, failing
// with SharedMemory if the buffer is too small. A nil loc means the result
// is discarded (message executed for effect only).
func (d *Dispatcher) writeResult(loc *Location, v any) error {
	if loc == nil {
		return nil
	}
	encoded, err := wireformat.ToJSON(v)
	if err != nil {
		return err
	}
	encoded = append(encoded, 0)

	if int64(len(encoded)) > loc.Size {
		return bridgeerr.New("write_result", bridgeerr.SharedMemory, "result segment too small for encoded response")
	}
	return d.Shm.WithView(loc.Name, loc.Offset, loc.Size, func(view []byte) error {
		copy(view, encoded)
		return nil
	})
}

func trimTrailingNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// SendMessage implements bridge_send_message: decode args from argsLoc
// (optional), resolve target, dispatch by name, serialize the result into
// resultLoc (optional).
func (d *Dispatcher) SendMessage(target handles.Handle, messageName string, argsLoc, resultLoc *Location) error {
	const op = "send_message"
	if target == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "target handle is null")
	}
	if messageName == "" {
		return bridgeerr.New(op, bridgeerr.InvalidArgument, "message name is empty")
	}

	obj, err := d.Handles.Resolve(target)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.InvalidHandle, err)
	}

	args, err := d.readArgs(argsLoc)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}

	result, err := d.Host.SendMessage(obj, messageName, args)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
	}

	if err := d.writeResult(resultLoc, result); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}
	return nil
}

// GetSlot implements bridge_get_slot.
func (d *Dispatcher) GetSlot(target handles.Handle, slotName string, resultLoc *Location) error {
	const op = "get_slot"
	if target == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "target handle is null")
	}

	obj, err := d.Handles.Resolve(target)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.InvalidHandle, err)
	}

	result, err := d.Host.GetSlot(obj, slotName)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.NotFound, err)
	}

	if err := d.writeResult(resultLoc, result); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}
	return nil
}

// SetSlot implements bridge_set_slot: decode value from valueLoc, write it
// through to the target.
func (d *Dispatcher) SetSlot(target handles.Handle, slotName string, valueLoc *Location) error {
	const op = "set_slot"
	if target == 0 {
		return bridgeerr.New(op, bridgeerr.InvalidHandle, "target handle is null")
	}
	if valueLoc == nil {
		return bridgeerr.New(op, bridgeerr.InvalidArgument, "value segment is required")
	}

	obj, err := d.Handles.Resolve(target)
	if err != nil {
		return bridgeerr.Wrap(op, bridgeerr.InvalidHandle, err)
	}

	var value any
	viewErr := d.Shm.WithView(valueLoc.Name, valueLoc.Offset, valueLoc.Size, func(raw []byte) error {
		v, err := wireformat.FromJSON(trimTrailingNul(raw))
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if viewErr != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, viewErr)
	}

	if err := d.Host.SetSlot(obj, slotName, value); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.WorkerRuntimeError, err)
	}
	return nil
}

// Forward implements proxyrt.Forwarder directly against the host-VM
// runtime, bypassing JSON marshalling since the proxy already deals in host
// values.
func (d *Dispatcher) Forward(kind proxyrt.ForwardKind, masterHandle handles.Handle, slot string, value any) (any, error) {
	obj, err := d.Handles.Resolve(masterHandle)
	if err != nil {
		return nil, err
	}

	switch kind {
	case proxyrt.ForwardGet:
		return d.Host.GetSlot(obj, slot)
	case proxyrt.ForwardSet:
		return nil, d.Host.SetSlot(obj, slot, value)
	case proxyrt.ForwardRemove:
		return nil, d.Host.RemoveSlot(obj, slot)
	case proxyrt.ForwardDidNotUnderstand:
		notice, _ := value.(proxyrt.DidNotUnderstandNotice)
		payload := map[string]any{"slot": notice.Slot, "objectId": notice.ObjectID}
		if notice.Error != "" {
			payload["error"] = notice.Error
		}
		return nil, d.Host.NotifyDidNotUnderstand(obj, slot, payload)
	default:
		return nil, fmt.Errorf("dispatchcore: unknown forward kind %v", kind)
	}
}
