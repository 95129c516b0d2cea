package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
)

// Use builds a Relay fed by a new in-memory bus and installs it as the default.
// The bus is returned so callers can publish into it.
//
// Example:
//
//	relay, bus := memory.Use(memory.Config{BufferSize: 4096},
//	    memory.WithLogger(logger),
//	    memory.WithSink(memory.NewSink()),
//	)
//	_ = relay.Start(ctx)
//	_, _ = bus.Publish(ctx, "logs.app", "hello")
func Use(cfg Config, opts ...Option) (*xrelay.Relay, *Bus) {
	bus := NewBus(cfg)
	rb := xrelay.NewRelayBuilder().WithSubscriberInstance(bus)

	for _, o := range opts {
		if o != nil {
			o(rb)
		}
	}

	r, err := rb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	xrelay.SetDefault(r)
	return r, bus
}

// Option configures the xrelay.Relay when calling Use.
type Option func(*xrelay.RelayBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xrelay.RelayBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xrelay.RelayBuilder) { b.WithClock(c) }
}

// WithPattern sets the topic pattern (default: "logs.#").
func WithPattern(p string) Option {
	return func(b *xrelay.RelayBuilder) { b.WithPattern(p) }
}

// WithCodec selects a frame codec by name (default: "text").
func WithCodec(name string) Option {
	return func(b *xrelay.RelayBuilder) { b.WithCodec(name) }
}

// WithSink persists through s.
func WithSink(s xrelay.Sink) Option {
	return func(b *xrelay.RelayBuilder) { b.WithSinkInstance(s) }
}

// WithSlowClientTimeout sets how long a broadcast waits on a full client queue.
func WithSlowClientTimeout(d time.Duration) Option {
	return func(b *xrelay.RelayBuilder) { b.WithSlowClientTimeout(d) }
}

// WithClientQueue sets the per-connection buffer and write timeout.
func WithClientQueue(size int, writeTimeout time.Duration) Option {
	return func(b *xrelay.RelayBuilder) { b.WithClientQueue(size, writeTimeout) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xrelay.Observer) Option {
	return func(b *xrelay.RelayBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xrelay.RelayBuilder) { b.WithObserverPool(workers, bufferSize) }
}
