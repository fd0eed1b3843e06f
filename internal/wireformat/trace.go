// Package wireformat implements the JSON wire conventions the bridge uses to
// move host values and worker tasks across the C-ABI boundary: W3C trace
// context propagation, and the host-value <-> JSON marshalling rules from
// the dispatch and worker-task specs.
//
// The traceparent shape mirrors the `otelsc` span-context field hcsshim's
// internal/gcs/protocol.go piggybacks onto its request base, except the
// worker task protocol here is plain JSON rather than a binary RPC frame, so
// we encode the full W3C string rather than raw trace/span ID components.
package wireformat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateTraceparent returns a W3C traceparent of the form
// "00-<32 hex>-<16 hex>-01" with non-zero trace and span IDs, regenerating
// either half that happens to come back all-zero.
func GenerateTraceparent() string {
	var traceID [16]byte
	for isAllZero(traceID[:]) {
		mustRead(traceID[:])
	}
	var spanID [8]byte
	for isAllZero(spanID[:]) {
		mustRead(spanID[:])
	}
	return fmt.Sprintf("00-%s-%s-01", hex.EncodeToString(traceID[:]), hex.EncodeToString(spanID[:]))
}

func mustRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on a supported platform does not fail; if it
		// somehow does, a non-random but non-zero fallback still satisfies
		// the "non-zero ID" invariant without panicking the bridge.
		for i := range b {
			b[i] = 0x42
		}
	}
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// TraceContext is the decoded form of a task's "trace_context" field.
type TraceContext struct {
	Traceparent string `json:"traceparent"`
	Tracestate  string `json:"tracestate"`
}

// EnsureTraceContext guarantees task["trace_context"]["traceparent"] is set,
// generating one if the caller omitted it, and defaulting "tracestate" to
// empty. task is mutated in place and returned for chaining.
func EnsureTraceContext(task map[string]any) map[string]any {
	raw, ok := task["trace_context"].(map[string]any)
	if !ok {
		raw = map[string]any{}
	}
	if tp, ok := raw["traceparent"].(string); !ok || tp == "" {
		raw["traceparent"] = GenerateTraceparent()
	}
	if _, ok := raw["tracestate"]; !ok {
		raw["tracestate"] = ""
	}
	task["trace_context"] = raw
	return task
}
