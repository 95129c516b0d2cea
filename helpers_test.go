package xrelay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("conn closed")

// fakeConn records frames. Send fails once the conn is closed, or with sendErr.
// When gate is set, Send waits for a value on it before writing; delay slows
// every Send down without failing it.
type fakeConn struct {
	id      string
	sendErr error
	gate    chan struct{}
	delay   time.Duration

	mu        sync.Mutex
	frames    []string
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, closed: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return errConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.frames = append(c.frames, string(frame))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeSubscriber captures the handler so tests can push messages in bus order.
type fakeSubscriber struct {
	subscribeErr error

	mu      sync.Mutex
	handler Handler
	ctx     context.Context
	pattern string
	sub     *fakeSubscription
	closed  atomic.Bool
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.ctx = context.WithoutCancel(ctx)
	s.pattern = pattern
	s.sub = &fakeSubscription{errCh: make(chan error, 1)}
	return s.sub, nil
}

func (s *fakeSubscriber) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSubscriber) deliver(topic, payload string) {
	s.mu.Lock()
	h, ctx, pattern := s.handler, s.ctx, s.pattern
	s.mu.Unlock()
	h(ctx, Message{Topic: topic, Pattern: pattern, Payload: payload})
}

type fakeSubscription struct {
	errCh     chan error
	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.errCh)
	})
	return nil
}

// fail reports a terminal error the way a subscriber does after exhausting reconnects.
func (s *fakeSubscription) fail(err error) {
	s.closeOnce.Do(func() {
		s.errCh <- err
		close(s.errCh)
	})
}

// memSink records stored messages; err, when set, fails every Store.
type memSink struct {
	mu     sync.Mutex
	msgs   []Message
	err    error
	gate   chan struct{}
	closed atomic.Bool
}

func (s *memSink) Store(ctx context.Context, msg Message) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *memSink) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Payload)
	}
	return out
}

// startRelay builds and starts a relay over a fake subscriber.
func startRelay(t *testing.T, sink Sink, init func(b *RelayBuilder)) (*Relay, *fakeSubscriber) {
	t.Helper()
	sub := &fakeSubscriber{}
	b := NewRelayBuilder().WithSubscriberInstance(sub)
	if sink != nil {
		b.WithSinkInstance(sink)
	}
	if init != nil {
		init(b)
	}
	r, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	require.NoError(t, r.Start(context.Background()))
	return r, sub
}

func waitFrames(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Frames()) >= n }, 2*time.Second, 5*time.Millisecond,
		"conn %s: want %d frames, have %d", c.id, n, len(c.Frames()))
}
