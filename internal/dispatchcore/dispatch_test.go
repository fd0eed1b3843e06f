package dispatchcore

import (
	"testing"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/hostvm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/proxyrt"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/shm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/wireformat"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *handles.Table, handles.Handle) {
	t.Helper()
	table := handles.New(nil)
	host := hostvm.NewReferenceRuntime()
	registry := shm.New(t.TempDir())

	obj := hostvm.NewObject("master")
	if err := host.SetSlot(obj, "x", 7.0); err != nil {
		t.Fatalf("seed SetSlot: %v", err)
	}
	h := table.Register(obj)
	if err := table.Pin(h); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	return New(table, host, registry), table, h
}

func writeJSON(t *testing.T, registry *shm.Registry, v any) Location {
	t.Helper()
	seg, err := registry.Create(256, "test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	data, err := registry.Map(seg.Name)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	encoded, err := wireformat.ToJSON(v)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	encoded = append(encoded, 0)
	copy(data, encoded)
	return Location{Name: seg.Name, Offset: 0, Size: seg.Size}
}

func TestGetSlotWritesJSONResult(t *testing.T) {
	d, _, h := newTestDispatcher(t)
	resultLoc := writeJSON(t, d.Shm, nil) // allocate a result segment

	if err := d.GetSlot(h, "x", &resultLoc); err != nil {
		t.Fatalf("GetSlot: %v", err)
	}

	var got any
	err := d.Shm.WithView(resultLoc.Name, 0, resultLoc.Size, func(view []byte) error {
		v, err := wireformat.FromJSON(trimTrailingNul(view))
		got = v
		return err
	})
	if err != nil {
		t.Fatalf("WithView/FromJSON: %v", err)
	}
	if got != 7.0 {
		t.Fatalf("GetSlot result = %v, want 7", got)
	}
}

func TestSetSlotThenGetSlotRoundTrip(t *testing.T) {
	d, _, h := newTestDispatcher(t)
	valueLoc := writeJSON(t, d.Shm, 99.0)

	if err := d.SetSlot(h, "y", &valueLoc); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}

	resultLoc := writeJSON(t, d.Shm, nil)
	if err := d.GetSlot(h, "y", &resultLoc); err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	var got any
	if err := d.Shm.WithView(resultLoc.Name, 0, resultLoc.Size, func(view []byte) error {
		v, err := wireformat.FromJSON(trimTrailingNul(view))
		got = v
		return err
	}); err != nil {
		t.Fatalf("WithView/FromJSON: %v", err)
	}
	if got != 99.0 {
		t.Fatalf("round trip = %v, want 99", got)
	}
}

func TestSendMessageWithArgs(t *testing.T) {
	table := handles.New(nil)
	host := hostvm.NewReferenceRuntime()
	registry := shm.New(t.TempDir())
	obj := hostvm.NewObject("master")
	obj.HandleMessage("sum", func(args []any) (any, error) {
		total := 0.0
		for _, a := range args {
			total += a.(float64)
		}
		return total, nil
	})
	h := table.Register(obj)
	_ = table.Pin(h)
	d := New(table, host, registry)

	argsLoc := writeJSON(t, registry, []any{1.0, 2.0, 3.0})
	resultLoc := writeJSON(t, registry, nil)

	if err := d.SendMessage(h, "sum", &argsLoc, &resultLoc); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var got any
	if err := registry.WithView(resultLoc.Name, 0, resultLoc.Size, func(view []byte) error {
		v, err := wireformat.FromJSON(trimTrailingNul(view))
		got = v
		return err
	}); err != nil {
		t.Fatalf("WithView/FromJSON: %v", err)
	}
	if got != 6.0 {
		t.Fatalf("SendMessage(sum) = %v, want 6", got)
	}
}

func TestSendMessageNullHandleFails(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if err := d.SendMessage(0, "whatever", nil, nil); err == nil {
		t.Fatal("expected null handle to fail")
	}
}

func TestForwardImplementsProxyForwarder(t *testing.T) {
	table := handles.New(nil)
	host := hostvm.NewReferenceRuntime()
	registry := shm.New(t.TempDir())
	obj := hostvm.NewObject("master")
	if err := host.SetSlot(obj, "x", 7.0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := table.Register(obj)
	_ = table.Pin(h)
	d := New(table, host, registry)

	p := proxyrt.New(h, "proxy-1", table, d)
	v, err := p.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 7.0 {
		t.Fatalf("Get(x) = %v, want 7", v)
	}
}
