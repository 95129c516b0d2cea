package xrelay

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xlog"
)

// RegistryConfig tunes per-connection delivery.
type RegistryConfig struct {
	// QueueSize bounds the frames buffered per connection (default 256).
	QueueSize int
	// EnqueueTimeout is how long a broadcast waits for room in a full queue
	// before evicting that connection (default 1s). The wait is shared by all
	// full queues of one broadcast.
	EnqueueTimeout time.Duration
	// WriteTimeout bounds a single Send (default 5s).
	WriteTimeout time.Duration
	// MaxConns caps registered connections; 0 means unlimited.
	MaxConns int
	// Codec encodes each message once per broadcast (default TextCodec).
	Codec FrameCodec
	// Logger defaults to xlog.Default().
	Logger *xlog.Logger
	// Notify receives registry events. Optional; must not block.
	Notify func(Event)
}

func (c *RegistryConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Codec == nil {
		c.Codec = TextCodec{}
	}
	if c.Logger == nil {
		c.Logger = xlog.Default()
	}
}

// Registry is the set of live client connections. Each member owns a bounded
// FIFO queue drained by its own writer goroutine, so one slow or broken client
// never delays delivery to the others.
type Registry struct {
	cfg RegistryConfig

	mu      sync.RWMutex
	members map[string]*member
	closed  bool

	wg sync.WaitGroup
}

type member struct {
	id       string
	conn     Conn
	queue    chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func (m *member) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *member) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	cfg.defaults()
	return &Registry{
		cfg:     cfg,
		members: make(map[string]*member),
	}
}

// Register adds conn; it receives every broadcast issued after Register returns.
func (r *Registry) Register(conn Conn) error {
	if conn == nil {
		return ErrNilConn
	}
	id := conn.ID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrRegistryClosed
	}
	if _, ok := r.members[id]; ok {
		r.mu.Unlock()
		return ErrDuplicateConn
	}
	if r.cfg.MaxConns > 0 && len(r.members) >= r.cfg.MaxConns {
		r.mu.Unlock()
		return ErrRegistryFull
	}
	m := &member{
		id:    id,
		conn:  conn,
		queue: make(chan []byte, r.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	r.members[id] = m
	n := len(r.members)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.writer(m)

	r.notify(Event{Type: EventRegistered, ConnID: id, Conns: n})
	return nil
}

// Deregister removes conn if present. It does not close conn.
func (r *Registry) Deregister(conn Conn) {
	if conn == nil {
		return
	}
	r.mu.RLock()
	m, ok := r.members[conn.ID()]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.remove(m, false, Event{Type: EventDeregistered, ConnID: m.id})
}

// remove deletes exactly m. A later member registered under the same ID is left alone.
func (r *Registry) remove(m *member, closeConn bool, e Event) {
	r.mu.Lock()
	cur, ok := r.members[m.id]
	if !ok || cur != m {
		r.mu.Unlock()
		return
	}
	delete(r.members, m.id)
	n := len(r.members)
	r.mu.Unlock()

	m.stop()
	if closeConn {
		_ = m.conn.Close()
	}
	e.Conns = n
	r.notify(e)
}

// Broadcast hands msg to every connection registered at call time.
// Per-connection failures are handled here and never reach the caller.
// A connection whose queue stays full for EnqueueTimeout is evicted, so a
// stuck client delays one broadcast by at most EnqueueTimeout.
func (r *Registry) Broadcast(msg Message) BroadcastResult {
	var (
		res     BroadcastResult
		timer   *time.Timer
		expired bool
	)

	frame, err := r.cfg.Codec.Encode(msg)
	if err != nil {
		r.cfg.Logger.Warn().Str("codec", r.cfg.Codec.Name()).Str("topic", msg.Topic).Err(err).Msg("xrelay: frame encode failed")
		r.notify(Event{Type: EventError, Topic: msg.Topic, Err: err})
		return res
	}

	r.mu.RLock()
	snapshot := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	res.Targets = len(snapshot)
	for _, m := range snapshot {
		if m.stopped() {
			continue
		}
		select {
		case m.queue <- frame:
			res.Queued++
			continue
		default:
		}
		if !expired {
			if timer == nil {
				timer = time.NewTimer(r.cfg.EnqueueTimeout)
			}
			select {
			case m.queue <- frame:
				res.Queued++
				continue
			case <-m.done:
				continue
			case <-timer.C:
				expired = true
			}
		}
		res.Evicted++
		r.cfg.Logger.Warn().Str("conn_id", m.id).Msg("xrelay: client too slow, evicting")
		r.remove(m, true, Event{Type: EventEvicted, ConnID: m.id, Topic: msg.Topic})
	}
	if timer != nil {
		timer.Stop()
	}
	return res
}

func (r *Registry) writer(m *member) {
	defer r.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case frame := <-m.queue:
			if m.stopped() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
			err := m.conn.Send(ctx, frame)
			cancel()
			if err != nil {
				if m.stopped() {
					return
				}
				r.cfg.Logger.Warn().Str("conn_id", m.id).Err(err).Msg("xrelay: write failed, dropping connection")
				r.remove(m, true, Event{Type: EventWriteFailed, ConnID: m.id, Err: err})
				return
			}
		}
	}
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Close closes every connection and waits for writers to exit or ctx to expire.
// Later Register calls fail with ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	members := r.members
	r.members = make(map[string]*member)
	r.mu.Unlock()

	for _, m := range members {
		m.stop()
		_ = m.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) notify(e Event) {
	if r.cfg.Notify != nil {
		r.cfg.Notify(e)
	}
}
