package memory

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xrelay"
)

// SubscriberName is the name the in-process bus registers under.
const SubscriberName = "memory"

func init() {
	if err := xrelay.RegisterSubscriber(SubscriberName, func(cfg map[string]any) (xrelay.Subscriber, error) {
		return NewBus(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xrelay/memory: failed to register subscriber: %w", err))
	}
	if err := xrelay.RegisterSink(SinkName, func(map[string]any) (xrelay.Sink, error) {
		return NewSink(), nil
	}); err != nil {
		panic(fmt.Errorf("xrelay/memory: failed to register sink: %w", err))
	}
}

// ErrClosed is returned when publishing or subscribing on a closed Bus.
var ErrClosed = errors.New("memory bus is closed")

// Config controls memory bus behavior.
type Config struct {
	// BufferSize is the per-subscription queue size (default: 1024).
	BufferSize int
}

// ConfigFromMap reads a Config from a factory config blob; buffer_size defaults to 1024.
func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	return Config{
		BufferSize: max(1, getInt("buffer_size", 1024)),
	}
}

// toMap converts Config to the generic map expected by the subscriber factory.
func (c Config) toMap() map[string]any {
	return map[string]any{"buffer_size": c.BufferSize}
}

// Bus is an in-process topic bus implementing xrelay.Subscriber (dev/testing).
// Patterns use the AMQP form ("logs.#") or path.Match globs.
type Bus struct {
	cfg Config

	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	subErr  error
	closed  atomic.Bool
	metrics *busMetrics
}

type busMetrics struct {
	published atomic.Uint64
	delivered atomic.Uint64
	unrouted  atomic.Uint64
}

var _ xrelay.Subscriber = (*Bus)(nil)

// NewBus creates a new in-memory bus.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Bus{
		cfg:     cfg,
		subs:    make(map[*subscription]struct{}),
		metrics: &busMetrics{},
	}
}

// Publish delivers payload to every subscription whose pattern matches topic
// and returns how many matched. A full subscription queue blocks to preserve order.
func (b *Bus) Publish(ctx context.Context, topic, payload string) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		if ok, _ := path.Match(s.glob, topic); ok {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.metrics.published.Add(1)
	if len(targets) == 0 {
		// No subscribers => drop (pub/sub semantics)
		b.metrics.unrouted.Add(1)
		return 0, nil
	}

	for _, s := range targets {
		msg := xrelay.Message{Topic: topic, Pattern: s.pattern, Payload: payload}
		select {
		case s.queue <- msg:
		case <-s.done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return len(targets), nil
}

// Subscribe registers handler for topics matching pattern. The handshake is immediate
// unless SetSubscribeError injected a failure.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler xrelay.Handler) (xrelay.Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if pattern == "" {
		return nil, xrelay.ErrInvalidPattern
	}
	glob := xrelay.TopicToGlob(pattern)
	if _, err := path.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("memory: pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	if err := b.subErr; err != nil {
		b.mu.Unlock()
		return nil, err
	}
	s := &subscription{
		bus:     b,
		pattern: pattern,
		glob:    glob,
		queue:   make(chan xrelay.Message, b.cfg.BufferSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		errCh:   make(chan error, 1),
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go s.run(runCtx, handler)
	return s, nil
}

// SetSubscribeError makes later Subscribe calls fail with err; nil clears it.
func (b *Bus) SetSubscribeError(err error) {
	b.mu.Lock()
	b.subErr = err
	b.mu.Unlock()
}

// Fail drops every subscription as if the broker connection were lost for good.
// Each subscription reports err, wrapped in xrelay.ErrSubscriptionLost, on Err().
// Must not be called from a handler.
func (b *Bus) Fail(err error) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.stop(fmt.Errorf("%w: %v", xrelay.ErrSubscriptionLost, err))
	}
}

// Close stops every subscription. Idempotent.
func (b *Bus) Close(_ context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

// Stats returns bus telemetry.
type Stats struct {
	Published     uint64
	Delivered     uint64
	Unrouted      uint64
	Subscriptions int
}

// Stats returns current bus metrics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:     b.metrics.published.Load(),
		Delivered:     b.metrics.delivered.Load(),
		Unrouted:      b.metrics.unrouted.Load(),
		Subscriptions: n,
	}
}

type subscription struct {
	bus     *Bus
	pattern string
	glob    string
	queue   chan xrelay.Message
	done    chan struct{}
	exited  chan struct{}
	errCh   chan error
	once    sync.Once
}

func (s *subscription) Err() <-chan error { return s.errCh }

// run delivers queued messages one at a time, in publish order.
func (s *subscription) run(ctx context.Context, handler xrelay.Handler) {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.bus.metrics.delivered.Add(1)
			handler(ctx, msg)
		}
	}
}

func (s *subscription) stop(err error) {
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		if err != nil {
			s.errCh <- err
		}
		close(s.errCh)
	})
}

// Close stops delivery and waits for an in-flight handler to return.
func (s *subscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.stop(nil)
	return nil
}

