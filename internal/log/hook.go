package log

import (
	"bytes"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ImPhilipGlover/EntropicGarden-sub010/internal/logfields"
)

const nullString = "null"

// TimeFormatRFC3339NanoFixed is a fixed-width variant of RFC3339Nano, handy
// for log lines that should stay column-aligned.
const TimeFormatRFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// Hook intercepts and formats a [logrus.Entry] before it is logged: it JSON
// encodes structured fields and, if the entry's context carries a valid
// OpenTelemetry span context, attaches trace/span IDs for correlation.
type Hook struct {
	// EncodeAsJSON formats structs, maps, arrays, slices, and [bytes.Buffer] as
	// JSON. Default is true.
	EncodeAsJSON bool

	// TimeFormat specifies the format for [time.Time] fields. An empty string
	// disables formatting. Default is TimeFormatRFC3339NanoFixed.
	TimeFormat string

	// DurationFormat converts [time.Duration] fields to an appropriate
	// encoding. Default is DurationFormatSeconds.
	DurationFormat DurationFormat

	// AddSpanContext adds logfields.TraceID and logfields.SpanID fields from
	// the span stored in the entry's context, if any.
	AddSpanContext bool

	// EncodeError, when true, lets the logrus error field go through the same
	// formatting as other fields. Values of type error are left as they are
	// either way.
	EncodeError bool
}

var _ logrus.Hook = &Hook{}

func NewHook() *Hook {
	return &Hook{
		EncodeAsJSON:   true,
		TimeFormat:     TimeFormatRFC3339NanoFixed,
		DurationFormat: DurationFormatSeconds,
		AddSpanContext: true,
	}
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(e *logrus.Entry) error {
	h.encode(e)
	h.addSpanContext(e)
	return nil
}

func (h *Hook) encode(e *logrus.Entry) {
	d := e.Data

	formatTime := h.TimeFormat != ""
	if !(h.EncodeAsJSON || formatTime) {
		return
	}

	for k, v := range d {
		if !h.EncodeError {
			if _, ok := v.(error); k == logrus.ErrorKey || ok {
				continue
			}
		}

		if t, ok := v.(time.Time); formatTime && ok {
			d[k] = t.Format(h.TimeFormat)
			continue
		}

		if !h.EncodeAsJSON {
			continue
		}

		switch vv := v.(type) {
		case bool, string, error, uintptr,
			int8, int16, int32, int64, int,
			uint8, uint32, uint64, uint,
			float32, float64:
			continue

		case time.Duration:
			if h.DurationFormat != nil {
				if i := h.DurationFormat(vv); i != nil {
					d[k] = i
				}
			}
			continue

		case bytes.Buffer:
			v = vv.Bytes()
		case *bytes.Buffer:
			v = vv.Bytes()
		}

		rv := reflect.Indirect(reflect.ValueOf(v))
		if !rv.IsValid() {
			d[k] = nullString
			continue
		}

		switch rv.Kind() {
		case reflect.Map, reflect.Struct, reflect.Array, reflect.Slice:
		default:
			continue
		}

		b, err := encode(v)
		if err != nil {
			d[k+"-"+logrus.ErrorKey] = err.Error()
		}
		d[k] = string(b)
	}
}

func (h *Hook) addSpanContext(e *logrus.Entry) {
	if !h.AddSpanContext || e.Context == nil {
		return
	}
	sctx := trace.SpanContextFromContext(e.Context)
	if !sctx.IsValid() {
		return
	}
	e.Data[logfields.TraceID] = sctx.TraceID().String()
	e.Data[logfields.SpanID] = sctx.SpanID().String()
}
