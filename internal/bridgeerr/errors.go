package bridgeerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// BridgeError is the error type every facade operation returns internally.
// It carries a Kind so callers (and the thread-local ErrorRecord) can map it
// to the fixed taxonomy without string sniffing, mirroring the
// Hresult()-bearing error wrappers in hcsshim's internal/hcs and
// internal/gcserr packages.
type BridgeError struct {
	Op   string
	Kind Kind
	err  error
}

// New creates a BridgeError of the given kind, wrapping msg with a stack
// trace via github.com/pkg/errors so diagnostics retain an origin.
func New(op string, kind Kind, msg string) *BridgeError {
	return &BridgeError{Op: op, Kind: kind, err: pkgerrors.New(msg)}
}

// Wrap attaches op and kind to an existing error. If err is already a
// *BridgeError, its Kind is preserved unless overridden by a more specific
// wrap closer to the origin — matching the "don't double wrap" convention in
// hcsshim's makeHCSError.
func Wrap(op string, kind Kind, err error) *BridgeError {
	if err == nil {
		return nil
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be
	}
	return &BridgeError{Op: op, Kind: kind, err: pkgerrors.WithStack(err)}
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.err.Error())
}

func (e *BridgeError) Unwrap() error { return e.err }

// Is reports whether target is a BridgeError of the same Kind, so callers
// can test with errors.Is(err, bridgeerr.New("", bridgeerr.NotFound, "")).
func (e *BridgeError) Is(target error) bool {
	var other *BridgeError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to WorkerRuntimeError for
// errors the bridge did not originate (e.g. a panic recovered at the facade
// boundary).
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return WorkerRuntimeError
}

// StackTracer mirrors the unexported interface pkg/errors uses to attach
// call stacks, exposed here so diagnostic sinks can request one.
type StackTracer interface {
	StackTrace() pkgerrors.StackTrace
}
