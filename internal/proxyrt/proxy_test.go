package proxyrt

import (
	"testing"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
)

// recordingForwarder is an in-process test double for Forwarder: it holds
// a fixed remote slot table and records any doesNotUnderstand notices it
// receives, mirroring the spec's "the master records a received
// proxyDidNotUnderstand_ message" test scenario.
type recordingForwarder struct {
	remoteSlots map[string]any
	notices     []DidNotUnderstandNotice
}

func newRecordingForwarder() *recordingForwarder {
	return &recordingForwarder{remoteSlots: make(map[string]any)}
}

func (f *recordingForwarder) Forward(kind ForwardKind, _ handles.Handle, slot string, value any) (any, error) {
	switch kind {
	case ForwardGet:
		v, ok := f.remoteSlots[slot]
		if !ok {
			return nil, &NotUnderstoodError{Slot: slot}
		}
		return v, nil
	case ForwardSet:
		f.remoteSlots[slot] = value
		return nil, nil
	case ForwardRemove:
		delete(f.remoteSlots, slot)
		return nil, nil
	case ForwardDidNotUnderstand:
		notice := value.(DidNotUnderstandNotice)
		f.notices = append(f.notices, notice)
		return nil, nil
	default:
		return nil, nil
	}
}

func newTestProxy(t *testing.T, forwarder *recordingForwarder) (*Proxy, handles.Handle, *handles.Table) {
	t.Helper()
	table := handles.New(nil)
	h := table.Register("master")
	if err := table.Pin(h); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	return New(h, "proxy-1", table, forwarder), h, table
}

func TestGetDelegatesToMasterOnMiss(t *testing.T) {
	fwd := newRecordingForwarder()
	fwd.remoteSlots["x"] = 7.0
	p, _, _ := newTestProxy(t, fwd)

	v, err := p.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 7.0 {
		t.Fatalf("Get(x) = %v, want 7", v)
	}
}

func TestSetThenGetReturnsLocalValue(t *testing.T) {
	fwd := newRecordingForwarder()
	fwd.remoteSlots["x"] = 7.0
	p, _, _ := newTestProxy(t, fwd)

	if err := p.Set("x", 9.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := p.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 9.0 {
		t.Fatalf("Get(x) after Set = %v, want 9 (local dominates)", v)
	}
	if got := fwd.remoteSlots["x"]; got != 9.0 {
		t.Fatalf("Set did not propagate to master, remote = %v", got)
	}
}

func TestCloneHasEmptyLocalSlots(t *testing.T) {
	fwd := newRecordingForwarder()
	fwd.remoteSlots["x"] = 7.0
	p, _, _ := newTestProxy(t, fwd)

	if err := p.Set("x", 9.0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clone, err := p.Clone("proxy-2")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	v, err := clone.Get("x")
	if err != nil {
		t.Fatalf("clone.Get: %v", err)
	}
	if v != 7.0 {
		t.Fatalf("clone.Get(x) = %v, want 7 (delegated, empty local slots)", v)
	}
}

func TestMissingSlotEscalatesDoesNotUnderstand(t *testing.T) {
	fwd := newRecordingForwarder()
	p, _, _ := newTestProxy(t, fwd)

	_, err := p.Get("unknown_slot")
	if err == nil {
		t.Fatal("expected Get of unknown slot to fail")
	}
	if len(fwd.notices) != 1 {
		t.Fatalf("expected one doesNotUnderstand notice, got %d", len(fwd.notices))
	}
	notice := fwd.notices[0]
	if notice.Slot != "unknown_slot" {
		t.Fatalf("notice.Slot = %q, want unknown_slot", notice.Slot)
	}
	if notice.ObjectID != "proxy-1" {
		t.Fatalf("notice.ObjectID = %q, want proxy-1", notice.ObjectID)
	}
}

func TestGetFallsBackToBuiltinBeforeEscalating(t *testing.T) {
	fwd := newRecordingForwarder()
	p, _, _ := newTestProxy(t, fwd)
	if err := p.Set("x", 1.0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := p.Get("get_local_slots")
	if err != nil {
		t.Fatalf("Get(get_local_slots): %v", err)
	}
	slots, ok := v.(map[string]any)
	if !ok || slots["x"] != 1.0 {
		t.Fatalf("expected get_local_slots builtin to reflect local cache, got %v", v)
	}
	if len(fwd.notices) != 0 {
		t.Fatal("builtin resolution should not escalate doesNotUnderstand")
	}
}

func TestRemoveMissingLocalSlotFails(t *testing.T) {
	fwd := newRecordingForwarder()
	p, _, _ := newTestProxy(t, fwd)

	if err := p.Remove("never_set"); err == nil {
		t.Fatal("expected Remove of never-set slot to fail")
	}
}

func TestMetricsTrackInvocationsAndFailures(t *testing.T) {
	fwd := newRecordingForwarder()
	fwd.remoteSlots["x"] = 1.0
	p, _, _ := newTestProxy(t, fwd)

	if _, err := p.Get("x"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := p.Get("missing"); err == nil {
		t.Fatal("expected failure")
	}

	snap := p.Metrics()
	if snap.Invocations != 2 {
		t.Fatalf("Invocations = %d, want 2", snap.Invocations)
	}
	if snap.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", snap.Failures)
	}
}

func TestTeardownReleasesPin(t *testing.T) {
	fwd := newRecordingForwarder()
	p, h, table := newTestProxy(t, fwd)

	if got := table.PinCount(h); got != 1 {
		t.Fatalf("PinCount before teardown = %d, want 1", got)
	}
	if err := p.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if got := table.PinCount(h); got != 0 {
		t.Fatalf("PinCount after teardown = %d, want 0", got)
	}
}
