package redispubsub

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
)

// Option configures the xrelay.Relay construction when calling Use.
type Option func(*xrelay.RelayBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xrelay.RelayBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xrelay.RelayBuilder) { b.WithClock(c) }
}

// WithPattern sets the topic pattern (default: logs.#).
func WithPattern(p string) Option {
	return func(b *xrelay.RelayBuilder) { b.WithPattern(p) }
}

// WithCodec selects a frame codec by name (default: text).
func WithCodec(name string) Option {
	return func(b *xrelay.RelayBuilder) { b.WithCodec(name) }
}

// WithSink selects a registered sink by name.
func WithSink(name string, cfg map[string]any) Option {
	return func(b *xrelay.RelayBuilder) { b.WithSink(name, cfg) }
}

// WithSinkInstance uses a ready sink.
func WithSinkInstance(s xrelay.Sink) Option {
	return func(b *xrelay.RelayBuilder) { b.WithSinkInstance(s) }
}

// WithSinkMiddleware wraps the sink.
func WithSinkMiddleware(mw ...xrelay.SinkMiddleware) Option {
	return func(b *xrelay.RelayBuilder) { b.WithSinkMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xrelay.Observer) Option {
	return func(b *xrelay.RelayBuilder) { b.WithObserver(obs...) }
}
