package redispubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xrelay"
)

func testConfig(m *miniredis.Miniredis) Config {
	cfg := Defaults()
	cfg.Addr = m.Addr()
	cfg.HealthCheckInterval = 200 * time.Millisecond
	cfg.BackoffMin = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	return cfg
}

func collect(buf int) (xrelay.Handler, chan xrelay.Message) {
	ch := make(chan xrelay.Message, buf)
	return func(_ context.Context, msg xrelay.Message) { ch <- msg }, ch
}

func TestSubscribe_DeliversMatchingTopicsInOrder(t *testing.T) {
	m := miniredis.RunT(t)

	s, err := NewSubscriber(testConfig(m))
	require.NoError(t, err)
	defer s.Close(context.Background())

	h, got := collect(64)
	sub, err := s.Subscribe(context.Background(), "logs.#", h)
	require.NoError(t, err)
	defer sub.Close()

	m.Publish("metrics.cpu", "ignored")
	for i := 0; i < 10; i++ {
		m.Publish("logs.app", fmt.Sprintf("line %d", i))
	}

	for i := 0; i < 10; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, fmt.Sprintf("line %d", i), msg.Payload)
			assert.Equal(t, "logs.app", msg.Topic)
			assert.Equal(t, "logs.#", msg.Pattern)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected message %q on %q", msg.Payload, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_HandshakeFailureIsReturned(t *testing.T) {
	m := miniredis.RunT(t)
	s, err := NewSubscriber(testConfig(m))
	require.NoError(t, err)
	defer s.Close(context.Background())

	m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, _ := collect(1)
	_, err = s.Subscribe(ctx, "logs.#", h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs.*")
}

func TestSubscribe_ReconnectsAndResubscribes(t *testing.T) {
	m := miniredis.RunT(t)
	s, err := NewSubscriber(testConfig(m))
	require.NoError(t, err)
	defer s.Close(context.Background())

	events := make(chan xrelay.Event, 64)
	ctx := xrelay.WithEmitter(context.Background(), func(e xrelay.Event) {
		select {
		case events <- e:
		default:
		}
	})
	h, got := collect(64)
	sub, err := s.Subscribe(ctx, "logs.#", h)
	require.NoError(t, err)
	defer sub.Close()

	m.Close()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Restart())

	require.Eventually(t, func() bool {
		m.Publish("logs.app", "after restart")
		select {
		case msg := <-got:
			return msg.Payload == "after restart"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	var reconnecting, resubscribed bool
	for len(events) > 0 {
		switch (<-events).Type {
		case xrelay.EventReconnecting:
			reconnecting = true
		case xrelay.EventSubscribed:
			resubscribed = true
		}
	}
	assert.True(t, reconnecting)
	assert.True(t, resubscribed)
}

func TestSubscribe_LostAfterMaxReconnects(t *testing.T) {
	m := miniredis.RunT(t)
	cfg := testConfig(m)
	cfg.MaxReconnects = 2
	s, err := NewSubscriber(cfg)
	require.NoError(t, err)
	defer s.Close(context.Background())

	h, _ := collect(1)
	sub, err := s.Subscribe(context.Background(), "logs.#", h)
	require.NoError(t, err)
	defer sub.Close()

	m.Close()

	select {
	case err := <-sub.Err():
		assert.ErrorIs(t, err, xrelay.ErrSubscriptionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not reported lost")
	}
}

// tcpProxy forwards connections to target. stallOpen makes every open link
// swallow bytes in both directions without closing, the way a peer behind a
// dropped NAT entry behaves. New connections keep working until refuseNew.
type tcpProxy struct {
	ln     net.Listener
	target string

	mu    sync.Mutex
	links []*proxyLink
}

type proxyLink struct {
	client, upstream net.Conn
	stalled          atomic.Bool
}

func newTCPProxy(t *testing.T, target string) *tcpProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &tcpProxy{ln: ln, target: target}
	go p.accept()
	t.Cleanup(func() {
		_ = ln.Close()
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, l := range p.links {
			_ = l.client.Close()
			_ = l.upstream.Close()
		}
	})
	return p
}

func (p *tcpProxy) Addr() string { return p.ln.Addr().String() }

func (p *tcpProxy) accept() {
	for {
		c, err := p.ln.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", p.target)
		if err != nil {
			_ = c.Close()
			continue
		}
		l := &proxyLink{client: c, upstream: up}
		p.mu.Lock()
		p.links = append(p.links, l)
		p.mu.Unlock()
		go l.pipe(up, c)
		go l.pipe(c, up)
	}
}

func (l *proxyLink) pipe(dst, src net.Conn) {
	defer func() {
		_ = l.client.Close()
		_ = l.upstream.Close()
	}()
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if err != nil {
			return
		}
		if l.stalled.Load() {
			continue
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (p *tcpProxy) stallOpen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.links {
		l.stalled.Store(true)
	}
}

func (p *tcpProxy) refuseNew() { _ = p.ln.Close() }

func TestSubscribe_SilentConnectionIsReplaced(t *testing.T) {
	m := miniredis.RunT(t)
	proxy := newTCPProxy(t, m.Addr())

	cfg := testConfig(m)
	cfg.Addr = proxy.Addr()
	cfg.HealthCheckInterval = 100 * time.Millisecond
	s, err := NewSubscriber(cfg)
	require.NoError(t, err)
	defer s.Close(context.Background())

	events := make(chan xrelay.Event, 64)
	ctx := xrelay.WithEmitter(context.Background(), func(e xrelay.Event) {
		select {
		case events <- e:
		default:
		}
	})
	h, got := collect(64)
	sub, err := s.Subscribe(ctx, "logs.#", h)
	require.NoError(t, err)
	defer sub.Close()

	proxy.stallOpen()

	require.Eventually(t, func() bool {
		m.Publish("logs.app", "after stall")
		select {
		case msg := <-got:
			return msg.Payload == "after stall"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	var pongTimeout bool
	for len(events) > 0 {
		if e := <-events; e.Type == xrelay.EventReconnecting && errors.Is(e.Err, errPongTimeout) {
			pongTimeout = true
		}
	}
	assert.True(t, pongTimeout)
}

func TestSubscribe_SilentConnectionEscalates(t *testing.T) {
	m := miniredis.RunT(t)
	proxy := newTCPProxy(t, m.Addr())

	cfg := testConfig(m)
	cfg.Addr = proxy.Addr()
	cfg.HealthCheckInterval = 100 * time.Millisecond
	cfg.MaxReconnects = 2
	s, err := NewSubscriber(cfg)
	require.NoError(t, err)
	defer s.Close(context.Background())

	h, _ := collect(1)
	sub, err := s.Subscribe(context.Background(), "logs.#", h)
	require.NoError(t, err)
	defer sub.Close()

	proxy.refuseNew()
	proxy.stallOpen()

	select {
	case err := <-sub.Err():
		assert.ErrorIs(t, err, xrelay.ErrSubscriptionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("silent connection was never reported lost")
	}
}

func TestSubscriber_Close(t *testing.T) {
	m := miniredis.RunT(t)
	s, err := NewSubscriber(testConfig(m))
	require.NoError(t, err)

	h, _ := collect(1)
	sub, err := s.Subscribe(context.Background(), "logs.#", h)
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, open := <-sub.Err()
	assert.False(t, open, "closing the subscriber ends every subscription")

	_, err = s.Subscribe(context.Background(), "logs.#", h)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher(t *testing.T) {
	m := miniredis.RunT(t)
	s, err := NewSubscriber(testConfig(m))
	require.NoError(t, err)
	defer s.Close(context.Background())

	h, got := collect(1)
	sub, err := s.Subscribe(context.Background(), "logs.*", h)
	require.NoError(t, err)
	defer sub.Close()

	p, err := NewPublisher(testConfig(m))
	require.NoError(t, err)
	defer p.Close()

	n, err := p.Publish(context.Background(), "logs.worker", "done")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-got:
		assert.Equal(t, "done", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
}

func TestConfig(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":                  "redis:6379",
		"max_reconnects":        3,
		"health_check_interval": "5s",
	})
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 3, cfg.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffMin)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))

	cfg.Addr = ""
	assert.Error(t, cfg.Validate())
	cfg = Defaults()
	cfg.BackoffMax = cfg.BackoffMin / 2
	assert.Error(t, cfg.Validate())
}

type chanConn struct {
	id     string
	frames chan string
}

func (c *chanConn) ID() string { return c.id }
func (c *chanConn) Send(_ context.Context, frame []byte) error {
	c.frames <- string(frame)
	return nil
}
func (c *chanConn) Close() error { return nil }

func TestUse(t *testing.T) {
	m := miniredis.RunT(t)

	relay := Use(testConfig(m), WithPattern("logs.#"), WithCodec("text"))
	defer relay.Close(context.Background())

	def, err := xrelay.Default(nil)
	require.NoError(t, err)
	assert.Same(t, relay, def)

	require.NoError(t, relay.Start(context.Background()))
	conn := &chanConn{id: "c1", frames: make(chan string, 1)}
	require.NoError(t, relay.Register(conn))

	m.Publish("logs.api", "hello")
	select {
	case f := <-conn.frames:
		assert.Equal(t, "hello", f)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}
