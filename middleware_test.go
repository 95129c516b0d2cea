package xrelay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store failed")

func countingSink(failures int32) (Sink, *atomic.Int32) {
	var calls atomic.Int32
	return SinkFunc(func(ctx context.Context, msg Message) error {
		if calls.Add(1) <= failures {
			return errStore
		}
		return nil
	}), &calls
}

func TestRetrySink(t *testing.T) {
	base, calls := countingSink(2)
	s := ChainSink(base, RetrySink(RetryConfig{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}))
	require.NoError(t, s.Store(context.Background(), Message{Payload: "x"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetrySink_GivesUp(t *testing.T) {
	base, calls := countingSink(10)
	s := ChainSink(base, RetrySink(RetryConfig{MaxAttempts: 2}))
	assert.ErrorIs(t, s.Store(context.Background(), Message{}), errStore)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetrySink_RetryIf(t *testing.T) {
	base, calls := countingSink(10)
	s := ChainSink(base, RetrySink(RetryConfig{
		MaxAttempts: 5,
		RetryIf:     func(err error) bool { return !errors.Is(err, errStore) },
	}))
	assert.ErrorIs(t, s.Store(context.Background(), Message{}), errStore)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutSink(t *testing.T) {
	slow := SinkFunc(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := ChainSink(slow, TimeoutSink(10*time.Millisecond))
	assert.ErrorIs(t, s.Store(context.Background(), Message{}), context.DeadlineExceeded)
}

func TestRecoverSink(t *testing.T) {
	s := ChainSink(SinkFunc(func(context.Context, Message) error { panic("bad driver") }), RecoverSink())
	err := s.Store(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrSinkPanic)
	assert.Contains(t, err.Error(), "bad driver")
}

func TestBreakerSink(t *testing.T) {
	base, calls := countingSink(100)
	var opened atomic.Bool
	s := ChainSink(base, BreakerSink(BreakerConfig{
		ConsecutiveFailures: 3,
		OpenFor:             time.Minute,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				opened.Store(true)
			}
		},
	}))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Store(context.Background(), Message{}), errStore)
	}
	assert.True(t, opened.Load())

	assert.ErrorIs(t, s.Store(context.Background(), Message{}), gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the store")
}

func TestChainSink_OrderAndClose(t *testing.T) {
	var order []string
	mw := func(name string) SinkMiddleware {
		return func(next Sink) Sink {
			return wrappedSink{next: next, store: func(ctx context.Context, msg Message) error {
				order = append(order, name)
				return next.Store(ctx, msg)
			}}
		}
	}
	inner := &memSink{}
	s := ChainSink(inner, mw("outer"), nil, mw("inner"))

	require.NoError(t, s.Store(context.Background(), Message{Payload: "p"}))
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, []string{"p"}, inner.Payloads())

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, inner.closed.Load())
}
