// Package log provides a shared logrus entry embedded in a context.Context,
// along with a hook that normalizes structured field encoding and injects
// OpenTelemetry span identifiers. Bridge components log through this
// package (L, or G(ctx) where a context is at hand) rather than the global
// logrus logger; entries obtained through G(ctx) carry that context, so the
// hook can attach span identifiers to them.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

var L = logrus.NewEntry(logrus.StandardLogger())

// G returns the logrus.Entry associated with ctx, or the package default if
// none was set via UpdateContext.
func G(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return L
	}
	if e, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return e.WithContext(ctx)
	}
	return L.WithContext(ctx)
}

// UpdateContext stores the package default logger (refreshed with ctx, which
// picks up any active span) back into ctx so that subsequent G(ctx) calls in
// the same call chain see consistent fields.
func UpdateContext(ctx context.Context) context.Context {
	e := L.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// WithField returns a derived context whose logger carries an extra field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	e := G(ctx).WithField(key, value)
	return context.WithValue(ctx, loggerKey{}, e)
}
