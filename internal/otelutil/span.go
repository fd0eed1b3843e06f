// Package otelutil provides small conveniences around OpenTelemetry spans,
// used by the worker pool around each task submission.
package otelutil

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/log"
)

// DefaultSampler is an always-on sampler. Nothing in this module installs
// it; spans from StartSpan use whatever tracer provider is registered
// globally.
var DefaultSampler = sdktrace.AlwaysSample()

// SetSpanStatus records err (or Ok if nil) on span.
func SetSpanStatus(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// StartSpan wraps the otel tracer's Start, additionally stashing the updated
// logger (with trace/span IDs attached) back into the returned context when
// the span is sampling.
func StartSpan(ctx context.Context, name string, o ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx, s := otel.Tracer("synbridge").Start(ctx, name, o...)
	if s.IsRecording() {
		ctx = log.UpdateContext(ctx)
	}
	return ctx, s
}

var WithServerSpanKind = trace.WithSpanKind(trace.SpanKindServer)
var WithClientSpanKind = trace.WithSpanKind(trace.SpanKindClient)
