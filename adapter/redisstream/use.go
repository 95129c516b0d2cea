package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xrelay"
)

// Adapter: Redis Streams Sink (Strategy + Adapter patterns)

// SinkName is the name the stream sink registers under.
const SinkName = "redis-stream"

func init() {
	if err := xrelay.RegisterSink(SinkName, func(cfg map[string]any) (xrelay.Sink, error) {
		return NewSink(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrelay: failed to register sink %q: %w", SinkName, err))
	}
}

// Use builds a stream sink wrapped with the given resiliency options.
// It panics when Redis is unreachable, mirroring the other Use helpers.
func Use(cfg Config, opts ...Option) xrelay.Sink {
	s, err := NewSink(cfg)
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return xrelay.ChainSink(s, o.middlewares...)
}
