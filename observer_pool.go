package xrelay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// poolJob pairs an event with the observers captured when it was raised.
type poolJob struct {
	event     Event
	observers []Observer
}

// ObserverPool dispatches events to observers off the delivery path.
// Events are dropped when the buffer is full.
type ObserverPool struct {
	jobs    chan poolJob
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewObserverPool starts workers goroutines reading from a buffer of bufferSize events.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		jobs:    make(chan poolJob, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	op.wg.Add(workers)
	for range workers {
		go op.run()
	}
	return op
}

// Notify queues e for observers without blocking. The caller must not mutate
// observers afterwards.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	select {
	case op.jobs <- poolJob{event: e, observers: observers}:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case job := <-op.jobs:
			op.dispatch(job)
		case <-op.ctx.Done():
			op.drain()
			return
		}
	}
}

// drain delivers whatever is still buffered after cancellation.
func (op *ObserverPool) drain() {
	for {
		select {
		case job := <-op.jobs:
			op.dispatch(job)
		default:
			return
		}
	}
}

func (op *ObserverPool) dispatch(job poolJob) {
	for _, obs := range job.observers {
		if obs != nil {
			op.call(obs, job.event)
		}
	}
	op.processed.Add(1)
}

// call isolates one observer; a panic is counted and swallowed.
func (op *ObserverPool) call(obs Observer, e Event) {
	defer func() {
		if recover() != nil {
			op.panics.Add(1)
		}
	}()
	obs.OnEvent(e)
}

// Close stops accepting events and drains the buffer, waiting up to timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		Panics:       op.panics.Load(),
		ActiveEvents: len(op.jobs),
		Workers:      op.workers,
		BufferSize:   cap(op.jobs),
	}
}
