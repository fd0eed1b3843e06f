package shm

import (
	"testing"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
)

func TestSharedMemoryRoundTrip(t *testing.T) {
	r := New(t.TempDir())

	seg, err := r.Create(1024, "vm-h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p, err := r.Map(seg.Name)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	copy(p, "hello\x00")

	if err := r.Unmap(seg.Name); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	p2, err := r.Map(seg.Name)
	if err != nil {
		t.Fatalf("re-Map: %v", err)
	}
	if got := string(p2[:5]); got != "hello" {
		t.Fatalf("read back %q, want %q", got, "hello")
	}

	if err := r.Unmap(seg.Name); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if err := r.Destroy(seg.Name); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestDestroyWithLiveMappingFails(t *testing.T) {
	r := New(t.TempDir())

	seg, err := r.Create(64, "vm-h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Map(seg.Name); err != nil {
		t.Fatalf("Map: %v", err)
	}

	err = r.Destroy(seg.Name)
	if err == nil {
		t.Fatal("expected Destroy to fail while a mapping is live")
	}
	if kind := bridgeerr.KindOf(err); kind != bridgeerr.SharedMemory {
		t.Fatalf("expected SharedMemory error kind, got %v", kind)
	}

	if err := r.Unmap(seg.Name); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if err := r.Destroy(seg.Name); err != nil {
		t.Fatalf("Destroy after unmap: %v", err)
	}
}

func TestMapRefCounting(t *testing.T) {
	r := New(t.TempDir())
	seg, err := r.Create(32, "vm-h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := r.Map(seg.Name); err != nil {
		t.Fatalf("Map #1: %v", err)
	}
	if _, err := r.Map(seg.Name); err != nil {
		t.Fatalf("Map #2: %v", err)
	}
	if got := r.MappingRefCount(seg.Name); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}

	if err := r.Unmap(seg.Name); err != nil {
		t.Fatalf("Unmap #1: %v", err)
	}
	if got := r.MappingRefCount(seg.Name); got != 1 {
		t.Fatalf("refcount after one unmap = %d, want 1", got)
	}

	if err := r.Destroy(seg.Name); err == nil {
		t.Fatal("expected Destroy to still fail with one live mapping")
	}

	if err := r.Unmap(seg.Name); err != nil {
		t.Fatalf("Unmap #2: %v", err)
	}
	if err := r.Destroy(seg.Name); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestViewBoundsChecking(t *testing.T) {
	r := New(t.TempDir())
	seg, err := r.Create(16, "vm-h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Map(seg.Name); err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer r.Unmap(seg.Name)

	if err := r.WithView(seg.Name, 0, 16, func([]byte) error { return nil }); err != nil {
		t.Fatalf("WithView full range: %v", err)
	}
	if err := r.WithView(seg.Name, 10, 10, func([]byte) error { return nil }); err == nil {
		t.Fatal("expected out-of-bounds WithView to fail")
	}
	if err := r.WithView(seg.Name, -1, 4, func([]byte) error { return nil }); err == nil {
		t.Fatal("expected negative offset to fail")
	}
}

func TestWithViewPinsMappingAgainstConcurrentUnmap(t *testing.T) {
	r := New(t.TempDir())
	seg, err := r.Create(16, "vm-h")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Map(seg.Name); err != nil {
		t.Fatalf("Map: %v", err)
	}

	err = r.WithView(seg.Name, 0, 16, func(data []byte) error {
		copy(data, []byte("hello-world-1234"))
		if err := r.Unmap(seg.Name); err != nil {
			t.Fatalf("Unmap during WithView: %v", err)
		}
		data[0] = 'H'
		return nil
	})
	if err != nil {
		t.Fatalf("WithView: %v", err)
	}
	if got := r.MappingRefCount(seg.Name); got != 0 {
		t.Fatalf("MappingRefCount after matching Unmap = %d, want 0", got)
	}
}

func TestCreateRejectsNonPositiveSize(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Create(0, "vm-h"); err == nil {
		t.Fatal("expected Create(0, ...) to fail")
	}
	if _, err := r.Create(-5, "vm-h"); err == nil {
		t.Fatal("expected Create(-5, ...) to fail")
	}
}

func TestDestroyUnknownSegment(t *testing.T) {
	r := New(t.TempDir())
	err := r.Destroy("does-not-exist")
	if err == nil {
		t.Fatal("expected Destroy of unknown segment to fail")
	}
	if kind := bridgeerr.KindOf(err); kind != bridgeerr.NotFound {
		t.Fatalf("expected NotFound error kind, got %v", kind)
	}
}
