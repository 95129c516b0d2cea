package xrelay

import (
	"context"
)

// Handler is invoked once per message received on a subscription.
type Handler func(ctx context.Context, msg Message)

// Subscription represents an active bus subscription.
type Subscription interface {
	// Err receives the terminal error when delivery stops because the bus could
	// not be recovered. It is closed once the delivery goroutine has exited.
	Err() <-chan error
	Close() error
}

// Subscriber is the Strategy interface for the message bus.
type Subscriber interface {
	// Subscribe binds handler to every topic matching pattern. It returns once
	// the bus has confirmed the subscription; ctx bounds only that handshake.
	// Delivery then runs in background, in bus order, until the Subscription
	// or the Subscriber is closed. Handler contexts keep the values of ctx.
	Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// Sink is the Strategy interface for the persistence backend.
type Sink interface {
	// Store appends one log record {msg: payload}. Errors are reported to the
	// relay, which logs them and moves on.
	Store(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// Conn is one client-facing duplex channel.
type Conn interface {
	// ID uniquely identifies the connection inside a Registry.
	ID() string
	// Send writes one discrete text frame, honoring the ctx deadline.
	Send(ctx context.Context, frame []byte) error
	// Close is idempotent.
	Close() error
}

// Registrar is the surface the ingress gateway needs.
type Registrar interface {
	Register(conn Conn) error
	Deregister(conn Conn)
}

// Observer receives relay lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xrelay surface.
type API interface {
	Registrar
	HealthChecker
	Start(ctx context.Context) error
	Dispatch(ctx context.Context, msg Message)
	Err() <-chan error
	Close(ctx context.Context) error
	GetMetrics() Metrics
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ API           = (*Relay)(nil)
	_ HealthChecker = (*Relay)(nil)
	_ Registrar     = (*Registry)(nil)
)
