package hostvm

import "testing"

func TestSetSlotThenGetSlot(t *testing.T) {
	rt := NewReferenceRuntime()
	obj := NewObject("master-1")

	if err := rt.SetSlot(obj, "x", 7.0); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}
	v, err := rt.GetSlot(obj, "x")
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if v != 7.0 {
		t.Fatalf("GetSlot(x) = %v, want 7", v)
	}
}

func TestGetMissingSlotReturnsMissingSlotError(t *testing.T) {
	rt := NewReferenceRuntime()
	obj := NewObject("master-1")

	_, err := rt.GetSlot(obj, "nope")
	if err == nil {
		t.Fatal("expected error for missing slot")
	}
	if _, ok := err.(*MissingSlotError); !ok {
		t.Fatalf("expected *MissingSlotError, got %T", err)
	}
}

func TestSendMessageDispatchesHandler(t *testing.T) {
	rt := NewReferenceRuntime()
	obj := NewObject("master-1")
	obj.HandleMessage("double", func(args []any) (any, error) {
		return args[0].(float64) * 2, nil
	})

	v, err := rt.SendMessage(obj, "double", []any{21.0})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if v != 42.0 {
		t.Fatalf("SendMessage(double, 21) = %v, want 42", v)
	}
}

func TestNotifyDidNotUnderstandRecordsNotice(t *testing.T) {
	rt := NewReferenceRuntime()
	obj := NewObject("master-1")

	if err := rt.NotifyDidNotUnderstand(obj, "unknown_slot", map[string]any{"slot": "unknown_slot"}); err != nil {
		t.Fatalf("NotifyDidNotUnderstand: %v", err)
	}
	if len(rt.Notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(rt.Notices))
	}
	if rt.Notices[0].Target != "master-1" || rt.Notices[0].SlotName != "unknown_slot" {
		t.Fatalf("unexpected notice: %+v", rt.Notices[0])
	}
}

func TestRemoveSlotMissingFails(t *testing.T) {
	rt := NewReferenceRuntime()
	obj := NewObject("master-1")
	if err := rt.RemoveSlot(obj, "nope"); err == nil {
		t.Fatal("expected error removing missing slot")
	}
}
