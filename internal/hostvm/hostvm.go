// Package hostvm defines the bridge's view of VM-H: the narrow surface the
// dispatch core calls into for message send and slot access. VM-H's object
// model itself is explicitly out of scope for the bridge (the spec calls
// out "defining the VM-H object model" as a non-goal) — this package only
// declares the seam and ships an in-process reference implementation used
// by tests and by the proxy runtime's direct-dispatch mode.
package hostvm

import "fmt"

// Runtime is the collaborator the dispatch core and proxy runtime call into
// to reach a host-VM object: send it a message, or get/set/remove one of
// its slots. The "target" parameter is always whatever value the
// handle table resolved an ObjectHandle to — the bridge never interprets
// it, only routes it.
type Runtime interface {
	SendMessage(target any, messageName string, args []any) (any, error)
	GetSlot(target any, slotName string) (any, error)
	SetSlot(target any, slotName string, value any) error
	RemoveSlot(target any, slotName string) error
	NotifyDidNotUnderstand(target any, slotName string, payload map[string]any) error
}

// MissingSlotError is returned by GetSlot when target has no such slot,
// distinguishing "slot absent" from any other failure so callers (the
// dispatch core, the proxy's Get path) can tell whether to escalate
// doesNotUnderstand or surface a hard failure.
type MissingSlotError struct {
	SlotName string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("slot %q not found", e.SlotName)
}

// Object is the reference runtime's notion of a host entity: a plain
// name-keyed slot bag, messages dispatched by name against a small
// built-in table. It exists to exercise Runtime end to end in tests; it is
// not a stand-in for VM-H's actual prototype object model.
type Object struct {
	Name     string
	slots    map[string]any
	messages map[string]func(args []any) (any, error)
}

// NewObject returns an empty object named name.
func NewObject(name string) *Object {
	return &Object{
		Name:     name,
		slots:    make(map[string]any),
		messages: make(map[string]func(args []any) (any, error)),
	}
}

// HandleMessage installs fn as the handler for messageName.
func (o *Object) HandleMessage(messageName string, fn func(args []any) (any, error)) {
	o.messages[messageName] = fn
}

// ReferenceRuntime is a minimal in-process Runtime over a set of Objects,
// also recording any doesNotUnderstand notices it receives so tests can
// assert on escalation (per the spec's "master records a received
// proxyDidNotUnderstand_ message" scenario).
type ReferenceRuntime struct {
	Notices []DidNotUnderstandNotice
}

// DidNotUnderstandNotice is the payload NotifyDidNotUnderstand records.
type DidNotUnderstandNotice struct {
	Target   string
	SlotName string
	Payload  map[string]any
}

// NewReferenceRuntime returns an empty ReferenceRuntime.
func NewReferenceRuntime() *ReferenceRuntime { return &ReferenceRuntime{} }

func (r *ReferenceRuntime) SendMessage(target any, messageName string, args []any) (any, error) {
	obj, ok := target.(*Object)
	if !ok {
		return nil, fmt.Errorf("hostvm: target is not a reference Object")
	}
	fn, ok := obj.messages[messageName]
	if !ok {
		return nil, &MissingSlotError{SlotName: messageName}
	}
	return fn(args)
}

func (r *ReferenceRuntime) GetSlot(target any, slotName string) (any, error) {
	obj, ok := target.(*Object)
	if !ok {
		return nil, fmt.Errorf("hostvm: target is not a reference Object")
	}
	v, ok := obj.slots[slotName]
	if !ok {
		return nil, &MissingSlotError{SlotName: slotName}
	}
	return v, nil
}

func (r *ReferenceRuntime) SetSlot(target any, slotName string, value any) error {
	obj, ok := target.(*Object)
	if !ok {
		return fmt.Errorf("hostvm: target is not a reference Object")
	}
	obj.slots[slotName] = value
	return nil
}

func (r *ReferenceRuntime) RemoveSlot(target any, slotName string) error {
	obj, ok := target.(*Object)
	if !ok {
		return fmt.Errorf("hostvm: target is not a reference Object")
	}
	if _, ok := obj.slots[slotName]; !ok {
		return &MissingSlotError{SlotName: slotName}
	}
	delete(obj.slots, slotName)
	return nil
}

func (r *ReferenceRuntime) NotifyDidNotUnderstand(target any, slotName string, payload map[string]any) error {
	name := "<unknown>"
	if obj, ok := target.(*Object); ok {
		name = obj.Name
	}
	r.Notices = append(r.Notices, DidNotUnderstandNotice{Target: name, SlotName: slotName, Payload: payload})
	return nil
}
