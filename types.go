package xrelay

import (
	"time"
)

// BroadcastResult summarizes one fan-out pass over the registry snapshot.
type BroadcastResult struct {
	Targets int // members in the snapshot
	Queued  int // frames handed to a member queue
	Evicted int // members dropped because their queue was full
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events handed to every observer
	Panics       uint64 // Observer panics recovered
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the relay.
type Metrics struct {
	Received       uint64
	Stored         uint64
	StoreFailed    uint64
	StoreDropped   uint64
	Broadcasts     uint64
	FramesQueued   uint64
	WriteFailed    uint64
	Evicted        uint64
	Errors         uint64
	Connections    int
	EventsDropped  uint64
	AvgStoreTimeMs float64
}

// HealthStatus indicates relay health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
