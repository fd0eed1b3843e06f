package workerpool

import (
	"context"
	"testing"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
)

func TestInitializeIsIdempotent(t *testing.T) {
	p := New(NewInProcessRuntime(false), 2)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize #1: %v", err)
	}
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize #2: %v", err)
	}
	if !p.Initialized() {
		t.Fatal("expected pool to report initialized")
	}
}

func TestSubmitBeforeInitializeFails(t *testing.T) {
	p := New(NewInProcessRuntime(false), 2)
	_, err := p.Submit(context.Background(), SharedMemoryTask("create", 1024, ""))
	if bridgeerr.KindOf(err) != bridgeerr.NotInitialized {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	p := New(NewInProcessRuntime(false), 2)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	resp, err := p.Submit(ctx, SharedMemoryTask("create", 1024, ""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.Success() {
		t.Fatalf("expected success response, got %v", resp)
	}
	if _, ok := resp["name"]; !ok {
		t.Fatal("expected a segment name in the response")
	}
}

func TestDegradedModeReportsFailureNotCrash(t *testing.T) {
	p := New(NewInProcessRuntime(true), 2)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	resp, err := p.Submit(ctx, ANNSearchTask(5, 0.8, "q", "r"))
	if err != nil {
		t.Fatalf("Submit should not error in degraded mode, got %v", err)
	}
	if resp.Success() {
		t.Fatal("expected degraded-mode response to report failure")
	}
	if resp.ErrorMessage() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := New(NewInProcessRuntime(false), 2)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown #1: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown #2: %v", err)
	}
}

func TestVectorOperationsLifecycle(t *testing.T) {
	p := New(NewInProcessRuntime(false), 2)
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cfg := VectorOperationConfig{OID: "obj-1", IndexName: "main"}
	resp, err := p.Submit(ctx, VectorOperationTask("put", "add", 42, cfg))
	if err != nil || !resp.Success() {
		t.Fatalf("add failed: resp=%v err=%v", resp, err)
	}

	resp, err = p.Submit(ctx, VectorOperationTask("put", "update", 42, cfg))
	if err != nil || !resp.Success() {
		t.Fatalf("update failed: resp=%v err=%v", resp, err)
	}

	resp, err = p.Submit(ctx, VectorOperationTask("remove", "remove", 42, cfg))
	if err != nil || !resp.Success() {
		t.Fatalf("remove failed: resp=%v err=%v", resp, err)
	}

	resp, err = p.Submit(ctx, VectorOperationTask("remove", "remove", 42, cfg))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Success() {
		t.Fatal("expected removing an already-removed vector to fail")
	}
}
