package xrelay

import (
	"time"
)

// Message is one log entry received from the bus. The Payload is opaque text and
// is never rewritten on its way to the store or to clients.
type Message struct {
	// Topic is the concrete channel the bus delivered the message on.
	Topic string
	// Pattern is the subscription pattern that matched Topic.
	Pattern string
	// Payload is the UTF-8 text published to the bus.
	Payload string
	// ReceivedAt is stamped from the injected clock when the relay receives it.
	ReceivedAt time.Time
}
