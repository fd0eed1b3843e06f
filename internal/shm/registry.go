// Package shm implements the shared-memory registry and mapping cache: named,
// OS-backed byte regions used for zero-copy transport of JSON payloads
// between the facade and the worker pool. The registry itself only tracks
// bookkeeping (names, sizes, refcounts); the mmap plumbing lives in
// mmap_unix.go.
//
// hcsshim describes shared VM memory declaratively (internal/hcs/schema2's
// VirtualMachineMemory) because HCS itself owns the mapping; here the bridge
// is the one doing the mapping, so this package does the work schema2 only
// described.
package shm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/log"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/logfields"
)

// Segment is a named, OS-backed byte region. Exactly one owner may destroy
// it; any peer may map and unmap it by name.
type Segment struct {
	Name            string
	Size            int64
	CreatorIdentity string

	path string // backing file path; see mmap_unix.go
}

// mapping is the registry's bookkeeping for a currently-mapped segment: the
// live mmap view and how many callers hold a reference to it.
type mapping struct {
	segment  *Segment
	data     []byte
	refcount int
}

// Registry is the process-global shared-memory registry. All mutations
// happen under mu, the registry's own mutex. It is not the worker pool's
// lock, and internal/bridgecore takes no further lock around Registry calls.
type Registry struct {
	mu       sync.Mutex
	segments map[string]*Segment
	mappings map[string]*mapping
	baseDir  string
}

// New returns an empty registry backing its segments under baseDir (created
// lazily on first Create).
func New(baseDir string) *Registry {
	return &Registry{
		segments: make(map[string]*Segment),
		mappings: make(map[string]*mapping),
		baseDir:  baseDir,
	}
}

// Create allocates a uniquely-named segment of at least size bytes and
// registers it. The segment is not yet mapped.
func (r *Registry) Create(size int64, creatorIdentity string) (*Segment, error) {
	const op = "create_shared_memory"
	if size < 1 {
		return nil, bridgeerr.New(op, bridgeerr.InvalidArgument, "segment size must be >= 1")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := "synbridge-" + uuid.NewString()
	path, err := createBackingFile(r.baseDir, name, size)
	if err != nil {
		return nil, bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}

	seg := &Segment{Name: name, Size: size, CreatorIdentity: creatorIdentity, path: path}
	r.segments[name] = seg
	log.L.WithFields(logrus.Fields{logfields.Name: name, logfields.Size: size}).Debug("shared memory segment created")
	return seg, nil
}

// Destroy removes name from the registry. Per the spec's resolved open
// question, a segment with live mappings is NOT destroyed out from under its
// mappers: destroy fails with SharedMemory so the caller unmaps first.
func (r *Registry) Destroy(name string) error {
	const op = "destroy_shared_memory"
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, ok := r.segments[name]
	if !ok {
		return bridgeerr.New(op, bridgeerr.NotFound, fmt.Sprintf("segment %q not found", name))
	}
	if m, mapped := r.mappings[name]; mapped && m.refcount > 0 {
		return bridgeerr.New(op, bridgeerr.SharedMemory,
			fmt.Sprintf("segment %q has %d live mapping(s); unmap before destroying", name, m.refcount))
	}

	if err := removeBackingFile(seg.path); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}
	delete(r.segments, name)
	log.L.WithField(logfields.Name, name).Debug("shared memory segment destroyed")
	return nil
}

// Map returns the backing buffer for name, mapping it on first use and
// incrementing a refcount on every subsequent call so the segment stays
// resident until the matching number of Unmap calls.
func (r *Registry) Map(name string) ([]byte, error) {
	const op = "map_shared_memory"
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.mappings[name]; ok {
		m.refcount++
		return m.data, nil
	}

	seg, ok := r.segments[name]
	if !ok {
		return nil, bridgeerr.New(op, bridgeerr.NotFound, fmt.Sprintf("segment %q not found", name))
	}
	data, err := mmapBackingFile(seg.path, seg.Size)
	if err != nil {
		return nil, bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}
	r.mappings[name] = &mapping{segment: seg, data: data, refcount: 1}
	log.L.WithField(logfields.Name, name).Debug("shared memory segment mapped")
	return data, nil
}

// Unmap releases one reference to name's mapping. When the last reference
// drops, the view is unmapped.
func (r *Registry) Unmap(name string) error {
	const op = "unmap_shared_memory"
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[name]
	if !ok {
		return bridgeerr.New(op, bridgeerr.NotFound, fmt.Sprintf("segment %q is not mapped", name))
	}
	m.refcount--
	if m.refcount > 0 {
		return nil
	}
	if err := munmapBuffer(m.data); err != nil {
		return bridgeerr.Wrap(op, bridgeerr.SharedMemory, err)
	}
	delete(r.mappings, name)
	log.L.WithField(logfields.Name, name).Debug("shared memory segment unmapped")
	return nil
}

// WithView invokes fn with the byte slice for handle (name, offset, size),
// validating that the bounds fall within the segment and that it is
// currently mapped. A temporary reference is held on the mapping for the
// duration of fn (mirroring Map's own refcounting) so a concurrent Unmap
// racing with fn cannot drop the mapping's refcount to zero and munmap the
// buffer out from under fn — an earlier revision returned the slice after
// releasing the registry lock, leaving exactly that window open. Used by
// the dispatch core to read/write JSON payloads without exposing raw
// pointers outside the C-ABI facade.
func (r *Registry) WithView(name string, offset, size int64, fn func([]byte) error) error {
	const op = "shared_memory_view"
	r.mu.Lock()
	seg, segOK := r.segments[name]
	m, mapOK := r.mappings[name]
	if !segOK {
		r.mu.Unlock()
		return bridgeerr.New(op, bridgeerr.NotFound, fmt.Sprintf("segment %q not found", name))
	}
	if !mapOK {
		r.mu.Unlock()
		return bridgeerr.New(op, bridgeerr.SharedMemory, fmt.Sprintf("segment %q is not mapped", name))
	}
	if offset < 0 || size < 0 || offset+size > seg.Size {
		r.mu.Unlock()
		return bridgeerr.New(op, bridgeerr.InvalidArgument, "handle offset/size out of bounds")
	}
	m.refcount++
	data := m.data[offset : offset+size]
	r.mu.Unlock()

	err := fn(data)

	r.mu.Lock()
	m.refcount--
	if m.refcount == 0 {
		_ = munmapBuffer(m.data)
		delete(r.mappings, name)
	}
	r.mu.Unlock()
	return err
}

// SegmentSize reports the declared size of name, for bounds-checking callers
// that only have a handle.
func (r *Registry) SegmentSize(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.segments[name]
	if !ok {
		return 0, false
	}
	return seg.Size, true
}

// MappingRefCount reports how many outstanding Map calls exist for name,
// primarily for tests and status introspection.
func (r *Registry) MappingRefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappings[name]; ok {
		return m.refcount
	}
	return 0
}

// Shutdown force-drops every mapping and removes every segment's backing
// file, used by the bridge's drain-on-shutdown path.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range r.mappings {
		_ = munmapBuffer(m.data)
		delete(r.mappings, name)
	}
	for name, seg := range r.segments {
		_ = removeBackingFile(seg.path)
		delete(r.segments, name)
	}
}
