package xrelay

import (
	"context"
	"fmt"
)

// Dispatch queues msg for persistence and broadcasts it to every registered
// connection. Neither step waits for the other, and a failure or panic in one
// never prevents the other.
func (r *Relay) Dispatch(ctx context.Context, msg Message) {
	if r.closed.Load() {
		return
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = r.clock.Now()
	}
	r.safely(ctx, "persist", msg, func() { r.enqueueStore(msg) })
	r.safely(ctx, "broadcast", msg, func() { r.broadcast(msg) })
}

func (r *Relay) safely(ctx context.Context, stage string, msg Message, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("xrelay: %s panic: %v", stage, rec)
			r.metrics.errors.Add(1)
			lg := r.logger
			if l, ok := LoggerFromContext(ctx); ok {
				lg = l
			}
			lg.Error().Str("stage", stage).Str("topic", msg.Topic).Err(err).Msg("xrelay: dispatch panic (recovered)")
			r.notifyAsync(Event{Type: EventError, Pattern: msg.Pattern, Topic: msg.Topic, Err: err})
		}
	}()
	fn()
}

// enqueueStore hands msg to the persistence workers, dropping it when the queue is full.
func (r *Relay) enqueueStore(msg Message) {
	r.persistMu.RLock()
	defer r.persistMu.RUnlock()
	if !r.persistOpen {
		return
	}
	select {
	case r.persistQueue <- msg:
	default:
		r.metrics.storeDropped.Add(1)
		r.logger.Warn().Str("topic", msg.Topic).Msg("xrelay: persistence queue full, dropping log message")
		r.notifyAsync(Event{Type: EventStoreDropped, Pattern: msg.Pattern, Topic: msg.Topic})
	}
}

func (r *Relay) broadcast(msg Message) {
	start := r.clock.Now()
	res := r.registry.Broadcast(msg)
	d := r.clock.Since(start)

	r.metrics.broadcasts.Add(1)
	r.metrics.framesQueued.Add(uint64(res.Queued))
	r.notifyAsync(Event{
		Type:     EventBroadcast,
		Pattern:  msg.Pattern,
		Topic:    msg.Topic,
		Conns:    res.Targets,
		Duration: d,
	})
}
