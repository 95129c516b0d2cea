package xrelay

import (
	"time"
)

// EventType enumerates relay lifecycle events for the Observer pattern.
type EventType string

const (
	EventSubscribed       EventType = "subscribed"
	EventReconnecting     EventType = "reconnecting"
	EventSubscriptionLost EventType = "subscription_lost"
	EventReceived         EventType = "received"
	EventStored           EventType = "stored"
	EventStoreFailed      EventType = "store_failed"
	EventStoreDropped     EventType = "store_dropped"
	EventBroadcast        EventType = "broadcast"
	EventWriteFailed      EventType = "write_failed"
	EventEvicted          EventType = "evicted"
	EventRegistered       EventType = "registered"
	EventDeregistered     EventType = "deregistered"
	EventError            EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type    EventType
	Pattern string
	Topic   string
	ConnID  string
	// Conns is the registry size after a register/deregister/evict, or the
	// number of targets for a broadcast.
	Conns    int
	Attempt  int
	Duration time.Duration
	Err      error
}
