package xrelay

import (
	"context"
	"errors"
	"sync"
)

// SinkFactory constructs persistence sinks from a config blob.
type SinkFactory func(cfg map[string]any) (Sink, error)

// DiscardSinkName selects DiscardSink through the factory registry.
const DiscardSinkName = "discard"

var (
	sinkRegistryMu sync.RWMutex
	sinkRegistry   = map[string]SinkFactory{
		DiscardSinkName: func(map[string]any) (Sink, error) { return DiscardSink{}, nil },
	}
)

// RegisterSink registers a persistence adapter.
func RegisterSink(name string, factory SinkFactory) error {
	if name == "" {
		return errors.New("sink name must not be empty")
	}
	if factory == nil {
		return errors.New("sink factory must not be nil")
	}
	sinkRegistryMu.Lock()
	sinkRegistry[name] = factory
	sinkRegistryMu.Unlock()
	return nil
}

// NewSink constructs a sink by name with config.
func NewSink(name string, cfg map[string]any) (Sink, error) {
	sinkRegistryMu.RLock()
	f, ok := sinkRegistry[name]
	sinkRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownSink{name: name}
	}
	return f(cfg)
}

// DiscardSink drops every message. Used when no store is configured.
type DiscardSink struct{}

func (DiscardSink) Store(context.Context, Message) error { return nil }
func (DiscardSink) Close(context.Context) error          { return nil }

// SinkFunc adapts a plain function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Store(ctx context.Context, msg Message) error { return f(ctx, msg) }
func (SinkFunc) Close(context.Context) error                    { return nil }
