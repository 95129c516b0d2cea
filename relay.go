package xrelay

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Relay is the Facade wiring one bus subscription to a persistence sink and a
// registry of client connections.
type Relay struct {
	subscriber Subscriber
	sink       Sink
	registry   *Registry
	pattern    string
	clock      xclock.Clock
	logger     *xlog.Logger

	storeTimeout time.Duration
	persistMu    sync.RWMutex
	persistQueue chan Message
	persistOpen  bool
	persistWG    sync.WaitGroup

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	baseCtx context.Context
	cancel  context.CancelFunc
	metrics *relayMetrics

	subMu   sync.Mutex
	sub     Subscription
	watchWG sync.WaitGroup
	errCh   chan error

	started   atomic.Bool
	lost      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// relayMetrics uses lock-free atomics.
type relayMetrics struct {
	received     atomic.Uint64
	stored       atomic.Uint64
	storeFailed  atomic.Uint64
	storeDropped atomic.Uint64
	broadcasts   atomic.Uint64
	framesQueued atomic.Uint64
	writeFailed  atomic.Uint64
	evicted      atomic.Uint64
	errors       atomic.Uint64
	storeNs      atomic.Int64
}

// Pattern returns the topic pattern the relay subscribes to.
func (r *Relay) Pattern() string { return r.pattern }

// Registry exposes the connection registry.
func (r *Relay) Registry() *Registry { return r.registry }

// Start subscribes to the configured pattern. It returns after the bus has
// confirmed the subscription; a failure here is fatal for the process.
func (r *Relay) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrRelayClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	sctx := InjectAll(ctx, r.logger, r.clock)
	sctx = WithEmitter(sctx, r.onEvent)

	sub, err := r.subscriber.Subscribe(sctx, r.pattern, r.handle)
	if err != nil {
		r.started.Store(false)
		r.metrics.errors.Add(1)
		r.logger.Error().Str("pattern", r.pattern).Err(err).Msg("xrelay: subscribe failed")
		return fmt.Errorf("xrelay: subscribe %q: %w", r.pattern, err)
	}

	r.subMu.Lock()
	r.sub = sub
	r.subMu.Unlock()

	r.logger.Info().Str("pattern", r.pattern).Msg("xrelay: subscribed")
	r.notifyAsync(Event{Type: EventSubscribed, Pattern: r.pattern})

	r.watchWG.Add(1)
	go r.watch(sub)
	return nil
}

// watch escalates a terminal subscription error to Err().
func (r *Relay) watch(sub Subscription) {
	defer r.watchWG.Done()
	err, ok := <-sub.Err()
	if !ok || err == nil || r.closed.Load() {
		return
	}
	if !errors.Is(err, ErrSubscriptionLost) {
		err = fmt.Errorf("%w: %v", ErrSubscriptionLost, err)
	}
	r.lost.Store(true)
	r.metrics.errors.Add(1)
	r.logger.Error().Str("pattern", r.pattern).Err(err).Msg("xrelay: subscription lost")
	r.notifyAsync(Event{Type: EventSubscriptionLost, Pattern: r.pattern, Err: err})
	select {
	case r.errCh <- err:
	default:
	}
}

// Err delivers the fatal error that stops the relay, such as a bus
// subscription that could not be recovered.
func (r *Relay) Err() <-chan error { return r.errCh }

// handle is the subscription callback.
func (r *Relay) handle(ctx context.Context, msg Message) {
	if r.closed.Load() {
		return
	}
	msg.ReceivedAt = r.clock.Now()
	if msg.Pattern == "" {
		msg.Pattern = r.pattern
	}
	r.metrics.received.Add(1)
	r.notifyAsync(Event{Type: EventReceived, Pattern: msg.Pattern, Topic: msg.Topic})
	r.Dispatch(ctx, msg)
}

// Register adds conn to the broadcast set.
func (r *Relay) Register(conn Conn) error {
	if r.closed.Load() {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrRelayClosed
	}
	return r.registry.Register(conn)
}

// Deregister removes conn from the broadcast set; a no-op if absent.
func (r *Relay) Deregister(conn Conn) {
	r.registry.Deregister(conn)
}

func (r *Relay) persistWorker() {
	defer r.persistWG.Done()
	for msg := range r.persistQueue {
		r.store(msg)
	}
}

func (r *Relay) store(msg Message) {
	ctx := r.baseCtx
	var cancel context.CancelFunc = func() {}
	if r.storeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.storeTimeout)
	}
	defer cancel()

	start := r.clock.Now()
	err := r.sink.Store(ctx, msg)
	d := r.clock.Since(start)
	r.recordStoreTime(d.Nanoseconds())

	if err != nil {
		r.metrics.storeFailed.Add(1)
		r.logger.Warn().Str("topic", msg.Topic).Err(err).Msg("xrelay: failed to store log message")
		r.notifyAsync(Event{Type: EventStoreFailed, Pattern: msg.Pattern, Topic: msg.Topic, Duration: d, Err: err})
		return
	}
	r.metrics.stored.Add(1)
	r.notifyAsync(Event{Type: EventStored, Pattern: msg.Pattern, Topic: msg.Topic, Duration: d})
}

// GetMetrics returns current relay metrics.
func (r *Relay) GetMetrics() Metrics {
	return Metrics{
		Received:       r.metrics.received.Load(),
		Stored:         r.metrics.stored.Load(),
		StoreFailed:    r.metrics.storeFailed.Load(),
		StoreDropped:   r.metrics.storeDropped.Load(),
		Broadcasts:     r.metrics.broadcasts.Load(),
		FramesQueued:   r.metrics.framesQueued.Load(),
		WriteFailed:    r.metrics.writeFailed.Load(),
		Evicted:        r.metrics.evicted.Load(),
		Errors:         r.metrics.errors.Load(),
		Connections:    r.registry.Len(),
		EventsDropped:  r.observerPool.Stats().Dropped,
		AvgStoreTimeMs: float64(r.metrics.storeNs.Load()) / 1e6,
	}
}

// Health reports relay health for probes.
func (r *Relay) Health(ctx context.Context) HealthStatus {
	now := r.clock.Now()
	if r.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "relay is closed"}
	}
	metrics := r.GetMetrics()
	if r.lost.Load() {
		return HealthStatus{Status: "unhealthy", Metrics: metrics, Timestamp: now, Message: "bus subscription lost"}
	}

	status := "healthy"
	msg := ""
	// Degraded if more than 5% of received messages were not stored.
	if failed := metrics.StoreFailed + metrics.StoreDropped; failed > 0 && metrics.Received > 0 {
		if rate := float64(failed) / float64(metrics.Received); rate > 0.05 {
			status = "degraded"
			msg = fmt.Sprintf("store failure rate %.1f%%", rate*100)
		}
	}

	return HealthStatus{Status: status, Metrics: metrics, Timestamp: now, Message: msg}
}

// Close shuts the relay down: subscription first, then connections, then the
// persistence queue drains and the sink closes. Idempotent.
func (r *Relay) Close(ctx context.Context) error {
	var errs []error

	r.closeOnce.Do(func() {
		r.closed.Store(true)

		r.subMu.Lock()
		sub := r.sub
		r.subMu.Unlock()
		if sub != nil {
			if err := sub.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("xrelay: subscription close failed")
				errs = append(errs, err)
			}
		}

		if err := r.registry.Close(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("xrelay: connections did not close in time")
			errs = append(errs, err)
		}

		r.persistMu.Lock()
		r.persistOpen = false
		close(r.persistQueue)
		r.persistMu.Unlock()
		if err := waitGroup(ctx, &r.persistWG); err != nil {
			// Abort pending stores; their messages are lost.
			r.cancel()
			r.logger.Warn().Err(err).Msg("xrelay: persistence queue did not drain in time")
			errs = append(errs, err)
		}

		if err := r.sink.Close(ctx); err != nil {
			r.logger.Error().Err(err).Msg("xrelay: sink close failed")
			errs = append(errs, err)
		}
		if err := r.subscriber.Close(ctx); err != nil {
			r.logger.Error().Err(err).Msg("xrelay: subscriber close failed")
			errs = append(errs, err)
		}
		_ = waitGroup(ctx, &r.watchWG)

		if err := r.observerPool.Close(5 * time.Second); err != nil {
			r.logger.Warn().Err(err).Msg("xrelay: observer pool shutdown timeout")
			errs = append(errs, err)
		}
		r.cancel()
	})

	return errors.Join(errs...)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddObserver registers an observer (thread-safe).
func (r *Relay) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	r.observersMu.Lock()
	r.observers = append(r.observers, obs)
	r.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of an uncomparable type, such
// as ObserverFunc, cannot be matched and are left in place; register a pointer
// when the observer must be removable.
func (r *Relay) RemoveObserver(obs Observer) {
	if obs == nil || !reflect.ValueOf(obs).Comparable() {
		return
	}
	r.observersMu.Lock()
	defer r.observersMu.Unlock()

	for i, o := range r.observers {
		if o == obs {
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			break
		}
	}
}

// onEvent receives events raised by the registry and by adapters.
func (r *Relay) onEvent(e Event) {
	switch e.Type {
	case EventWriteFailed:
		r.metrics.writeFailed.Add(1)
	case EventEvicted:
		r.metrics.evicted.Add(1)
	case EventError:
		r.metrics.errors.Add(1)
	}
	if e.Pattern == "" {
		e.Pattern = r.pattern
	}
	r.notifyAsync(e)
}

// notifyAsync dispatches events without blocking.
func (r *Relay) notifyAsync(e Event) {
	if r.observerPool == nil || r.closed.Load() {
		return
	}

	r.observersMu.RLock()
	if len(r.observers) == 0 {
		r.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observersMu.RUnlock()

	r.observerPool.Notify(e, observers)
}

// recordStoreTime keeps an exponential moving average of store latency.
func (r *Relay) recordStoreTime(ns int64) {
	const alpha = 0.2
	current := r.metrics.storeNs.Load()
	if current == 0 {
		r.metrics.storeNs.Store(ns)
		return
	}
	r.metrics.storeNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
