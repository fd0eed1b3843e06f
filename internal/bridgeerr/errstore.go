package bridgeerr

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxMessageBytes bounds ErrorRecord.Message per the two-call error
// protocol's contract: bridge_get_last_error copies into a caller buffer and
// must never require unbounded allocation to satisfy.
const maxMessageBytes = 1024

// record is the thread-local error state: a taxonomy code plus a bounded
// UTF-8 message, written by any facade call that fails and read back via the
// get_last_error/clear_error pair.
type record struct {
	kind    Kind
	message string
}

var store sync.Map // OS thread id (int64, from unix.Gettid) -> *record

// currentThreadID identifies the calling OS thread, not the calling
// goroutine: a cgo //export call runs synchronously on the native thread
// that made it, but the Go goroutine servicing that call is not guaranteed
// to be the same goroutine (or even to exist) on the next call the host
// makes from that same thread — goroutine identity does not survive the
// boundary between two separate C calls. The native thread id does survive
// it, since the host calls bridge_get_last_error from the same OS thread
// that just observed the failing call's return code, so keying the store on
// unix.Gettid() is what actually satisfies the two-call error protocol's
// "thread-local" contract across the C-ABI.
func currentThreadID() int64 {
	return int64(unix.Gettid())
}

func truncate(msg string) string {
	if len(msg) <= maxMessageBytes {
		return msg
	}
	// avoid splitting a multi-byte rune at the boundary: back up until the
	// byte just past the cut starts a rune.
	cut := maxMessageBytes
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(c byte) bool {
	return c&0xC0 != 0x80
}

// Set records err against the calling OS thread's error slot. If err is nil,
// it clears the slot instead (mirroring "cleared by... the next successful
// call on the same thread").
func Set(err error) {
	if err == nil {
		Clear()
		return
	}
	store.Store(currentThreadID(), &record{
		kind:    KindOf(err),
		message: truncate(err.Error()),
	})
}

// Clear resets the calling OS thread's error slot.
func Clear() {
	store.Delete(currentThreadID())
}

// Get returns the calling OS thread's last recorded kind and message. An
// empty message with Kind Success indicates no pending error.
func Get() (Kind, string) {
	v, ok := store.Load(currentThreadID())
	if !ok {
		return Success, ""
	}
	r := v.(*record)
	return r.kind, r.message
}
