package xrelay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// SinkMiddleware composes resiliency concerns around a Sink.
type SinkMiddleware func(next Sink) Sink

// wrappedSink replaces Store and forwards Close to the wrapped sink.
type wrappedSink struct {
	next  Sink
	store func(ctx context.Context, msg Message) error
}

func (w wrappedSink) Store(ctx context.Context, msg Message) error { return w.store(ctx, msg) }
func (w wrappedSink) Close(ctx context.Context) error              { return w.next.Close(ctx) }

// RetryConfig controls retry behavior for persistence.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt (e.g., exponential backoff).
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// RetrySink provides bounded, selective retries around Store.
func RetrySink(cfg RetryConfig) SinkMiddleware {
	return func(next Sink) Sink {
		return wrappedSink{next: next, store: func(ctx context.Context, msg Message) error {
			var lastErr error
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}
			for i := 1; i <= attempts; i++ {
				lastErr = next.Store(ctx, msg)
				if lastErr == nil {
					return nil
				}
				if ctx.Err() != nil {
					return lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return lastErr
					case <-time.After(wait):
					}
				}
			}
			return lastErr
		}}
	}
}

// TimeoutSink bounds a single Store call. The wrapped sink must honor ctx.
func TimeoutSink(d time.Duration) SinkMiddleware {
	if d <= 0 {
		return func(next Sink) Sink { return next }
	}
	return func(next Sink) Sink {
		return wrappedSink{next: next, store: func(ctx context.Context, msg Message) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Store(tctx, msg)
		}}
	}
}

// RecoverSink converts a panicking Store into ErrSinkPanic.
func RecoverSink() SinkMiddleware {
	return func(next Sink) Sink {
		return wrappedSink{next: next, store: func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
				}
			}()
			return next.Store(ctx, msg)
		}}
	}
}

// BreakerConfig controls the persistence circuit breaker.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker (default 5).
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker rejects calls before probing again (default 30s).
	OpenFor time.Duration
	// OnStateChange is optional.
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerSink stops calling an unreachable store until OpenFor has elapsed.
// Rejected calls fail fast with gobreaker.ErrOpenState.
func BreakerSink(cfg BreakerConfig) SinkMiddleware {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	openFor := cfg.OpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "xrelay-sink"
	}
	return func(next Sink) Sink {
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// A canceled caller says nothing about the store.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: cfg.OnStateChange,
		})
		return wrappedSink{next: next, store: func(ctx context.Context, msg Message) error {
			_, err := cb.Execute(func() (interface{}, error) {
				return nil, next.Store(ctx, msg)
			})
			return err
		}}
	}
}

// ChainSink composes middlewares around a sink in order.
func ChainSink(s Sink, mws ...SinkMiddleware) Sink {
	if len(mws) == 0 {
		return s
	}
	wrapped := s
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
