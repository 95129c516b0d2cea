package xrelay

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xrelay (prevents collisions).
type ctxKey string

const (
	loggerCtxKey ctxKey = "xrelay:logger"
	clockCtxKey  ctxKey = "xrelay:clock"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the relay logger injected into handler and sink contexts.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext returns the relay clock injected into handler and sink contexts.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}

type notifyCtxKey struct{}

// WithEmitter attaches an event sink for adapters that run outside the relay,
// such as a subscriber reporting reconnects.
func WithEmitter(ctx context.Context, emit func(Event)) context.Context {
	if emit == nil {
		return ctx
	}
	return context.WithValue(ctx, notifyCtxKey{}, emit)
}

// Emit forwards e to the emitter attached to ctx, if any.
func Emit(ctx context.Context, e Event) {
	if emit, ok := ctx.Value(notifyCtxKey{}).(func(Event)); ok {
		emit(e)
	}
}
