package wireformat

import (
	"regexp"
	"testing"
)

var traceparentRe = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-01$`)

func TestGenerateTraceparentShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		tp := GenerateTraceparent()
		if !traceparentRe.MatchString(tp) {
			t.Fatalf("traceparent %q does not match W3C shape", tp)
		}
	}
}

func TestEnsureTraceContextInjectsWhenMissing(t *testing.T) {
	task := map[string]any{"operation": "ping"}
	EnsureTraceContext(task)

	tc, ok := task["trace_context"].(map[string]any)
	if !ok {
		t.Fatal("expected trace_context to be set")
	}
	tp, _ := tc["traceparent"].(string)
	if !traceparentRe.MatchString(tp) {
		t.Fatalf("injected traceparent %q does not match W3C shape", tp)
	}
	if _, ok := tc["tracestate"]; !ok {
		t.Fatal("expected tracestate to default to empty string")
	}
}

func TestEnsureTraceContextPreservesCaller(t *testing.T) {
	task := map[string]any{
		"operation": "ping",
		"trace_context": map[string]any{
			"traceparent": "00-11111111111111111111111111111111-2222222222222222-01",
			"tracestate":  "vendor=1",
		},
	}
	EnsureTraceContext(task)
	tc := task["trace_context"].(map[string]any)
	if tc["traceparent"] != "00-11111111111111111111111111111111-2222222222222222-01" {
		t.Fatal("caller-supplied traceparent was overwritten")
	}
	if tc["tracestate"] != "vendor=1" {
		t.Fatal("caller-supplied tracestate was overwritten")
	}
}
