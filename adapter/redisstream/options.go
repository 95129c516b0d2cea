package redisstream

import (
	"time"

	"github.com/trickstertwo/xrelay"
)

type options struct {
	middlewares []xrelay.SinkMiddleware
}

// Option configures the sink returned by Use.
type Option func(*options)

// WithRetry retries failed writes.
func WithRetry(cfg xrelay.RetryConfig) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, xrelay.RetrySink(cfg)) }
}

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, xrelay.TimeoutSink(d)) }
}

// WithBreaker stops writing to an unreachable Redis for a while.
func WithBreaker(cfg xrelay.BreakerConfig) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, xrelay.BreakerSink(cfg)) }
}
