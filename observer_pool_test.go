package xrelay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPool_PanicDoesNotStopOtherObservers(t *testing.T) {
	op := NewObserverPool(context.Background(), 1, 8)

	var seen atomic.Int32
	bad := ObserverFunc(func(Event) { panic("observer bug") })
	good := ObserverFunc(func(Event) { seen.Add(1) })

	op.Notify(Event{Type: EventReceived}, []Observer{bad, nil, good})
	op.Notify(Event{Type: EventReceived}, []Observer{bad, good})
	require.NoError(t, op.Close(time.Second))

	assert.Equal(t, int32(2), seen.Load())
	st := op.Stats()
	assert.Equal(t, uint64(2), st.Processed)
	assert.Equal(t, uint64(2), st.Panics)
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	op := NewObserverPool(context.Background(), 1, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocker := ObserverFunc(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	op.Notify(Event{}, []Observer{blocker})
	<-started
	op.Notify(Event{}, []Observer{blocker}) // fills the buffer
	op.Notify(Event{}, []Observer{blocker}) // dropped

	assert.Equal(t, uint64(1), op.Stats().Dropped)
	close(release)
	require.NoError(t, op.Close(time.Second))
	assert.Equal(t, uint64(2), op.Stats().Processed)
}

func TestObserverPool_CloseTimeout(t *testing.T) {
	op := NewObserverPool(context.Background(), 1, 1)
	release := make(chan struct{})
	defer close(release)
	op.Notify(Event{}, []Observer{ObserverFunc(func(Event) { <-release })})

	require.Eventually(t, func() bool { return op.Stats().ActiveEvents == 0 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, op.Close(20*time.Millisecond), ErrObserverPoolShutdownTimeout)
	assert.NoError(t, op.Close(time.Millisecond))

	op.Notify(Event{}, []Observer{ObserverFunc(func(Event) {})})
	assert.Equal(t, uint64(0), op.Stats().Dropped)
}
