package xrelay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	r := NewRegistry(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func TestRegistry_RegisterRejectsMisuse(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{MaxConns: 2})

	assert.ErrorIs(t, r.Register(nil), ErrNilConn)

	a := newFakeConn("a")
	require.NoError(t, r.Register(a))
	assert.ErrorIs(t, r.Register(a), ErrDuplicateConn)
	assert.ErrorIs(t, r.Register(newFakeConn("a")), ErrDuplicateConn)

	require.NoError(t, r.Register(newFakeConn("b")))
	assert.ErrorIs(t, r.Register(newFakeConn("c")), ErrRegistryFull)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_DeregisterRemovesOnlyThatConnection(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c"), newFakeConn("d")}
	for _, c := range conns {
		require.NoError(t, r.Register(c))
	}

	r.Deregister(conns[1])
	assert.Equal(t, 3, r.Len())

	res := r.Broadcast(Message{Payload: "p"})
	assert.Equal(t, 3, res.Targets)
	assert.Equal(t, 3, res.Queued)
	for _, c := range []*fakeConn{conns[0], conns[2], conns[3]} {
		waitFrames(t, c, 1)
	}
	assert.Empty(t, conns[1].Frames())

	r.Deregister(newFakeConn("never-registered"))
	r.Deregister(nil)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_ReRegisterAfterDeregister(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	a := newFakeConn("a")
	require.NoError(t, r.Register(a))
	r.Deregister(a)
	require.NoError(t, r.Register(a))

	r.Broadcast(Message{Payload: "again"})
	waitFrames(t, a, 1)
	assert.Equal(t, []string{"again"}, a.Frames())
}

func TestRegistry_SlowConnectionIsEvicted(t *testing.T) {
	events := make(chan Event, 16)
	r := newTestRegistry(t, RegistryConfig{
		QueueSize:      1,
		EnqueueTimeout: 20 * time.Millisecond,
		Notify:         func(e Event) { events <- e },
	})

	fast := newFakeConn("fast")
	slow := newFakeConn("slow")
	slow.gate = make(chan struct{}) // never opened: Send blocks until Close
	require.NoError(t, r.Register(fast))
	require.NoError(t, r.Register(slow))

	evicted := 0
	for i := 0; i < 4; i++ {
		evicted += r.Broadcast(Message{Payload: "x"}).Evicted
		waitFrames(t, fast, i+1)
	}

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Len())
	assert.True(t, slow.isClosed())
	assert.Len(t, fast.Frames(), 4)

	found := false
	for len(events) > 0 {
		if e := <-events; e.Type == EventEvicted && e.ConnID == "slow" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRegistry_BurstWaitsForLiveConnection(t *testing.T) {
	events := make(chan Event, 64)
	r := newTestRegistry(t, RegistryConfig{
		QueueSize: 4,
		Notify:    func(e Event) { events <- e },
	})

	slow := newFakeConn("slow")
	slow.delay = 200 * time.Microsecond
	fast := newFakeConn("fast")
	require.NoError(t, r.Register(slow))
	require.NoError(t, r.Register(fast))

	const burst = 40
	want := make([]string, 0, burst)
	evicted := 0
	for i := 0; i < burst; i++ {
		p := fmt.Sprintf("m%d", i)
		want = append(want, p)
		evicted += r.Broadcast(Message{Payload: p}).Evicted
	}

	waitFrames(t, slow, burst)
	waitFrames(t, fast, burst)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 2, r.Len())
	assert.False(t, slow.isClosed())
	assert.Equal(t, want, slow.Frames())

	for len(events) > 0 {
		assert.NotEqual(t, EventEvicted, (<-events).Type)
	}
}

func TestRegistry_EnqueueWaitIsSharedAcrossStuckConnections(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{
		QueueSize:      1,
		EnqueueTimeout: 100 * time.Millisecond,
	})

	stuck := make([]*fakeConn, 3)
	for i := range stuck {
		stuck[i] = newFakeConn(fmt.Sprintf("stuck-%d", i))
		stuck[i].gate = make(chan struct{})
		require.NoError(t, r.Register(stuck[i]))
	}

	// One frame in flight in Send, one frame buffered.
	require.Equal(t, 3, r.Broadcast(Message{Payload: "a"}).Queued)
	require.Equal(t, 3, r.Broadcast(Message{Payload: "b"}).Queued)

	start := time.Now()
	res := r.Broadcast(Message{Payload: "c"})
	elapsed := time.Since(start)

	assert.Equal(t, 3, res.Evicted)
	assert.Equal(t, 0, r.Len())
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRegistry_PerConnectionOrder(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{QueueSize: 256})

	a := newFakeConn("a")
	require.NoError(t, r.Register(a))

	want := []string{"1", "2", "3", "4", "5"}
	for _, p := range want {
		r.Broadcast(Message{Payload: p})
	}
	waitFrames(t, a, len(want))
	assert.Equal(t, want, a.Frames())
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.Len())

	late := newFakeConn("late")
	assert.ErrorIs(t, r.Register(late), ErrRegistryClosed)
	assert.True(t, late.isClosed())

	res := r.Broadcast(Message{Payload: "nobody"})
	assert.Equal(t, 0, res.Targets)
}

func TestRegistry_EmptyBroadcast(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	assert.Equal(t, BroadcastResult{}, r.Broadcast(Message{Payload: "x"}))
}
