package redispubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/internal/redisconn"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("redispubsub: subscriber closed")

// errPongTimeout marks a connection that stopped answering health-check pings.
var errPongTimeout = errors.New("redispubsub: no reply to health-check ping")

// Subscriber consumes Redis Pub/Sub channels matching a pattern.
type Subscriber struct {
	cfg    Config
	client *redis.Client

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed atomic.Bool
}

// NewSubscriber connects to Redis and returns a ready Subscriber.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := redisconn.New(cfg.connOptions())
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		cfg:    cfg,
		client: client,
		subs:   make(map[*subscription]struct{}),
	}, nil
}

type subscription struct {
	psMu   sync.Mutex
	ps     *redis.PubSub
	cancel context.CancelFunc
	errCh  chan error
	done   chan struct{}
	once   sync.Once
	owner  *Subscriber
}

func (s *subscription) Err() <-chan error { return s.errCh }

// Close stops delivery and waits for the receive loop to exit.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.psMu.Lock()
		err = s.ps.Close()
		s.psMu.Unlock()
		<-s.done
		s.owner.forget(s)
	})
	return err
}

// Subscribe issues PSUBSCRIBE for pattern and waits for the server to confirm.
// AMQP-style patterns such as "logs.#" are translated to Redis globs.
func (s *Subscriber) Subscribe(ctx context.Context, pattern string, handler xrelay.Handler) (xrelay.Subscription, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if pattern == "" {
		return nil, xrelay.ErrInvalidPattern
	}
	glob := xrelay.TopicToGlob(pattern)

	ps := s.client.PSubscribe(ctx, glob)
	v, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redispubsub: psubscribe %q: %w", glob, err)
	}
	if _, ok := v.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, fmt.Errorf("redispubsub: psubscribe %q: unexpected reply %T", glob, v)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		ps:     ps,
		cancel: cancel,
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
		owner:  s,
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go s.receiveLoop(runCtx, sub, pattern, glob, handler)
	return sub, nil
}

// receiveLoop delivers messages in order. go-redis reconnects and resubscribes
// on the next receive after a broken connection; this loop paces those attempts
// and gives up after MaxReconnects consecutive failures. A quiet connection is
// pinged; if neither the PONG nor any other reply arrives within the
// next interval, the connection is dropped and the pattern subscribed again.
func (s *Subscriber) receiveLoop(ctx context.Context, sub *subscription, pattern, glob string, handler xrelay.Handler) {
	defer close(sub.done)
	defer close(sub.errCh)

	logger, ok := xrelay.LoggerFromContext(ctx)
	if !ok {
		logger = xlog.Default()
	}
	logger = logger.With(xlog.Str("pattern", glob))

	backoff := redisconn.Backoff{Min: s.cfg.BackoffMin, Max: s.cfg.BackoffMax}
	failures := 0
	pingPending := false

	for {
		if ctx.Err() != nil {
			return
		}

		v, err := sub.ps.ReceiveTimeout(ctx, s.cfg.HealthCheckInterval)
		if err != nil && redisconn.IsTimeout(err) && ctx.Err() == nil {
			if pingPending {
				err = errPongTimeout
			} else {
				// Quiet channel: make sure the connection is still alive.
				err = sub.ps.Ping(ctx)
				if err == nil {
					pingPending = true
					continue
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pingPending = false
			failures++
			if s.cfg.MaxReconnects > 0 && failures > s.cfg.MaxReconnects {
				sub.errCh <- fmt.Errorf("%w: %q after %d reconnect attempts: %v",
					xrelay.ErrSubscriptionLost, glob, s.cfg.MaxReconnects, err)
				return
			}
			if errors.Is(err, errPongTimeout) && !s.resubscribe(ctx, sub, glob) {
				return
			}
			wait := backoff.Next()
			logger.Warn().Err(err).Dur("backoff", wait).Msg("redispubsub: connection lost, reconnecting")
			xrelay.Emit(ctx, xrelay.Event{
				Type:     xrelay.EventReconnecting,
				Pattern:  pattern,
				Attempt:  failures,
				Duration: wait,
				Err:      err,
			})
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		pingPending = false
		switch m := v.(type) {
		case *redis.Subscription:
			if failures > 0 {
				logger.Info().Msg("redispubsub: resubscribed")
				xrelay.Emit(ctx, xrelay.Event{Type: xrelay.EventSubscribed, Pattern: pattern})
			}
			failures = 0
			backoff.Reset()
		case *redis.Message:
			failures = 0
			backoff.Reset()
			handler(ctx, xrelay.Message{Topic: m.Channel, Pattern: pattern, Payload: m.Payload})
		case *redis.Pong:
			failures = 0
			backoff.Reset()
		}
	}
}

// resubscribe replaces a PubSub whose connection stopped answering. go-redis
// treats read timeouts as healthy, so the dead socket has to be closed here.
// The new PubSub dials lazily; its confirmation arrives on the next receive.
// It reports false once the subscription is closing.
func (s *Subscriber) resubscribe(ctx context.Context, sub *subscription, glob string) bool {
	sub.psMu.Lock()
	defer sub.psMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	_ = sub.ps.Close()
	sub.ps = s.client.PSubscribe(ctx, glob)
	return true
}

func (s *Subscriber) forget(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Close stops every subscription and closes the client. Idempotent.
func (s *Subscriber) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return s.client.Close()
}
