// Command synbridge is the C-ABI facade: a cgo package built with
// -buildmode=c-shared so VM-H can dlopen it and call straight into the
// functions below. It owns the single process-wide bridgecore.Bridge and
// translates every exported symbol's C arguments into the corresponding
// bridgecore call, folding any Go error into a BridgeResult code and the
// thread-local error record.
//
// Grounded on hcsshim's cmd/gcs-sidecar and the orbstack rsvm machine shim
// for the cgo boundary idiom (C preamble struct declarations, CString/
// GoString conversions, runtime.Pinner for pointers handed to the host),
// generalized from "one VM" to "one bridge singleton per process" per the
// spec's single-bridge-instance assumption.
package main

/*
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct BridgeConfig {
    int32_t max_workers;
} BridgeConfig;

typedef struct BridgeStatus {
    int32_t initialized;
    int32_t state;
    int32_t max_workers;
    int32_t active_workers;
    char last_error_snapshot[256];
} BridgeStatus;

typedef struct SharedMemoryHandleC {
    const char* name;
    size_t offset;
    size_t size;
} SharedMemoryHandleC;
*/
import "C"

import (
	"context"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgeerr"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/bridgecore"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/dispatchcore"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/handles"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/hostvm"
	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/workerpool"
)

// bridge is the single process-wide Bridge. VM-H processes load one copy of
// this shared library per process, so one package-level singleton matches
// the spec's "bridge is a process singleton" assumption; nothing here
// supports multiple independent bridges in one address space.
var bridge = bridgecore.New(
	workerpool.NewInProcessRuntime(false),
	hostvm.NewReferenceRuntime(),
	nil,
	"/tmp/synbridge-shm",
)

// mapPins tracks, per mapped segment name, the Pinner keeping that mapping's
// base address stable for the lifetime the host holds a C pointer to it.
// Guarded by mapPinsMu; a name's Pinner is created on the first facade map
// of that name, and any successful unmap of the name unpins it and drops the
// entry, even when other mappings of the same name are still live. It does
// not track shm.Registry's mapping refcount.
var (
	mapPinsMu sync.Mutex
	mapPins   = make(map[string]*runtime.Pinner)
)

func bridgeResult(err error) C.int32_t {
	if err == nil {
		return 0
	}
	bridgeerr.Set(err)
	return C.int32_t(bridgeerr.KindOf(err).Code())
}

func cLocation(h *C.SharedMemoryHandleC) *dispatchcore.Location {
	if h == nil {
		return nil
	}
	return &dispatchcore.Location{
		Name:   C.GoString(h.name),
		Offset: int64(h.offset),
		Size:   int64(h.size),
	}
}

//export bridge_initialize
func bridge_initialize(cfg *C.BridgeConfig) C.int32_t {
	if cfg == nil {
		return bridgeResult(bridgeerr.New("bridge_initialize", bridgeerr.NullPointer, "config pointer is null"))
	}
	err := bridge.Initialize(context.Background(), bridgecore.Config{MaxWorkers: int(cfg.max_workers)})
	return bridgeResult(err)
}

//export bridge_shutdown
func bridge_shutdown() C.int32_t {
	return bridgeResult(bridge.Shutdown(context.Background()))
}

//export bridge_status
func bridge_status(out *C.BridgeStatus) C.int32_t {
	if out == nil {
		return bridgeResult(bridgeerr.New("bridge_status", bridgeerr.NullPointer, "status pointer is null"))
	}
	st := bridge.Status()
	out.initialized = boolToC(st.Initialized)
	out.state = C.int32_t(st.State)
	out.max_workers = C.int32_t(st.MaxWorkers)
	out.active_workers = C.int32_t(st.ActiveWorkers)
	copyStringToBuffer(st.LastErrorSnapshot, &out.last_error_snapshot[0], C.size_t(len(out.last_error_snapshot)))
	return 0
}

func boolToC(b bool) C.int32_t {
	if b {
		return 1
	}
	return 0
}

//export bridge_get_last_error
func bridge_get_last_error(buf *C.char, buflen C.size_t) C.int32_t {
	kind, msg := bridgecore.GetLastError()
	if buf != nil && buflen > 0 {
		copyStringToBuffer(msg, buf, buflen)
	}
	return C.int32_t(kind.Code())
}

// copyStringToBuffer writes s into buf (capacity buflen) as a UTF-8,
// null-terminated string, truncating rather than overflowing when s is
// longer than the host's buffer.
func copyStringToBuffer(s string, buf *C.char, buflen C.size_t) {
	max := int(buflen) - 1
	if max < 0 {
		max = 0
	}
	if len(s) > max {
		s = s[:max]
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(buflen))
	n := copy(dst, s)
	dst[n] = 0
}

//export bridge_clear_error
func bridge_clear_error() C.int32_t {
	bridgecore.ClearError()
	return 0
}

//export bridge_pin_object
func bridge_pin_object(h C.uint64_t) C.int32_t {
	return bridgeResult(bridge.PinObject(handles.Handle(h)))
}

//export bridge_unpin_object
func bridge_unpin_object(h C.uint64_t) C.int32_t {
	return bridgeResult(bridge.UnpinObject(handles.Handle(h)))
}

//export bridge_create_shared_memory
func bridge_create_shared_memory(size C.size_t, out *C.SharedMemoryHandleC) C.int32_t {
	if out == nil {
		return bridgeResult(bridgeerr.New("bridge_create_shared_memory", bridgeerr.NullPointer, "out pointer is null"))
	}
	seg, err := bridge.CreateSharedMemory(int64(size))
	if err != nil {
		return bridgeResult(err)
	}
	out.name = C.CString(seg.Name)
	out.offset = 0
	out.size = C.size_t(seg.Size)
	return 0
}

//export bridge_destroy_shared_memory
func bridge_destroy_shared_memory(h *C.SharedMemoryHandleC) C.int32_t {
	if h == nil {
		return bridgeResult(bridgeerr.New("bridge_destroy_shared_memory", bridgeerr.NullPointer, "handle pointer is null"))
	}
	name := C.GoString(h.name)
	if err := bridge.DestroySharedMemory(name); err != nil {
		return bridgeResult(err)
	}
	C.free(unsafe.Pointer(h.name))
	h.name = nil
	return 0
}

//export bridge_map_shared_memory
func bridge_map_shared_memory(h *C.SharedMemoryHandleC, out *unsafe.Pointer) C.int32_t {
	if h == nil || out == nil {
		return bridgeResult(bridgeerr.New("bridge_map_shared_memory", bridgeerr.NullPointer, "handle or out pointer is null"))
	}
	name := C.GoString(h.name)
	data, err := bridge.MapSharedMemory(name)
	if err != nil {
		return bridgeResult(err)
	}

	mapPinsMu.Lock()
	pinner, ok := mapPins[name]
	if !ok {
		pinner = &runtime.Pinner{}
		pinner.Pin(&data[0])
		mapPins[name] = pinner
	}
	mapPinsMu.Unlock()

	base := unsafe.Pointer(&data[0])
	*out = unsafe.Add(base, int(h.offset))
	return 0
}

//export bridge_unmap_shared_memory
func bridge_unmap_shared_memory(h *C.SharedMemoryHandleC, _ unsafe.Pointer) C.int32_t {
	if h == nil {
		return bridgeResult(bridgeerr.New("bridge_unmap_shared_memory", bridgeerr.NullPointer, "handle pointer is null"))
	}
	name := C.GoString(h.name)
	if err := bridge.UnmapSharedMemory(name); err != nil {
		return bridgeResult(err)
	}

	mapPinsMu.Lock()
	if pinner, ok := mapPins[name]; ok {
		pinner.Unpin()
		delete(mapPins, name)
	}
	mapPinsMu.Unlock()
	return 0
}

//export bridge_send_message
func bridge_send_message(target C.uint64_t, messageName *C.char, args, result *C.SharedMemoryHandleC) C.int32_t {
	err := bridge.SendMessage(handles.Handle(target), C.GoString(messageName), cLocation(args), cLocation(result))
	return bridgeResult(err)
}

//export bridge_get_slot
func bridge_get_slot(target C.uint64_t, slotName *C.char, result *C.SharedMemoryHandleC) C.int32_t {
	err := bridge.GetSlot(handles.Handle(target), C.GoString(slotName), cLocation(result))
	return bridgeResult(err)
}

//export bridge_set_slot
func bridge_set_slot(target C.uint64_t, slotName *C.char, value *C.SharedMemoryHandleC) C.int32_t {
	err := bridge.SetSlot(handles.Handle(target), C.GoString(slotName), cLocation(value))
	return bridgeResult(err)
}

//export bridge_submit_json_task
func bridge_submit_json_task(request, response *C.SharedMemoryHandleC) C.int32_t {
	reqLoc := cLocation(request)
	respLoc := cLocation(response)
	if reqLoc == nil || respLoc == nil {
		return bridgeResult(bridgeerr.New("bridge_submit_json_task", bridgeerr.NullPointer, "request/response handle is null"))
	}
	return bridgeResult(bridge.SubmitJSONTask(context.Background(), *reqLoc, *respLoc))
}

//export bridge_execute_vsa_batch
func bridge_execute_vsa_batch(operationName *C.char, inputShm, outputShm *C.SharedMemoryHandleC, batchSize C.size_t) C.int32_t {
	inName := ""
	if inputShm != nil {
		inName = C.GoString(inputShm.name)
	}
	outName := ""
	if outputShm != nil {
		outName = C.GoString(outputShm.name)
	}
	_, err := bridge.ExecuteVSABatch(context.Background(), C.GoString(operationName), int(batchSize), inName, outName)
	return bridgeResult(err)
}

//export bridge_ann_search
func bridge_ann_search(queryShm *C.SharedMemoryHandleC, k C.int, resultsShm *C.SharedMemoryHandleC, similarityThreshold C.double) C.int32_t {
	queryName := ""
	if queryShm != nil {
		queryName = C.GoString(queryShm.name)
	}
	resultsName := ""
	if resultsShm != nil {
		resultsName = C.GoString(resultsShm.name)
	}
	_, err := bridge.AnnSearch(context.Background(), int(k), float64(similarityThreshold), queryName, resultsName)
	return bridgeResult(err)
}

func vectorConfig(vectorShm *C.SharedMemoryHandleC, configJSON *C.char) workerpool.VectorOperationConfig {
	shmName := ""
	if vectorShm != nil {
		shmName = C.GoString(vectorShm.name)
	}
	cfg := workerpool.VectorOperationConfig{VectorShm: shmName}
	if configJSON != nil {
		// configJSON carries "oid:index_name", the two identifiers the spec's
		// VectorOperationConfig needs beyond the shared-memory handle.
		raw := C.GoString(configJSON)
		for i := 0; i < len(raw); i++ {
			if raw[i] == ':' {
				cfg.OID = raw[:i]
				cfg.IndexName = raw[i+1:]
				break
			}
		}
	}
	return cfg
}

//export bridge_add_vector
func bridge_add_vector(vectorID C.int64_t, vectorShm *C.SharedMemoryHandleC, configJSON *C.char) C.int32_t {
	_, err := bridge.AddVector(context.Background(), int64(vectorID), vectorConfig(vectorShm, configJSON))
	return bridgeResult(err)
}

//export bridge_update_vector
func bridge_update_vector(vectorID C.int64_t, vectorShm *C.SharedMemoryHandleC, configJSON *C.char) C.int32_t {
	_, err := bridge.UpdateVector(context.Background(), int64(vectorID), vectorConfig(vectorShm, configJSON))
	return bridgeResult(err)
}

//export bridge_remove_vector
func bridge_remove_vector(vectorID C.int64_t, vectorShm *C.SharedMemoryHandleC, configJSON *C.char) C.int32_t {
	_, err := bridge.RemoveVector(context.Background(), int64(vectorID), vectorConfig(vectorShm, configJSON))
	return bridgeResult(err)
}

func main() {}
