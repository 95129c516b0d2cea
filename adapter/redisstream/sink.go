package redisstream

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/internal/redisconn"
)

// Sink appends each log message to a Redis stream with XADD.
type Sink struct {
	cfg    Config
	client *redis.Client

	closed  atomic.Bool
	metrics *sinkMetrics
}

// sinkMetrics tracks write telemetry.
type sinkMetrics struct {
	stored atomic.Uint64
	failed atomic.Uint64
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Stored uint64
	Failed uint64
}

// NewSink connects to Redis and returns a ready sink.
func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := redisconn.New(cfg.connOptions())
	if err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, client: client, metrics: &sinkMetrics{}}, nil
}

// Store appends {msg: payload}; Redis assigns the entry ID.
func (s *Sink) Store(ctx context.Context, msg xrelay.Message) error {
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		ID:     "*",
		Values: map[string]any{fieldMsg: msg.Payload},
	}
	// Approximate trimming to keep stream bounded
	if s.cfg.MaxLenApprox > 0 {
		args.MaxLen = s.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.metrics.failed.Add(1)
		return err
	}
	s.metrics.stored.Add(1)
	return nil
}

// Stats returns current counters.
func (s *Sink) Stats() Stats {
	return Stats{Stored: s.metrics.stored.Load(), Failed: s.metrics.failed.Load()}
}

// Close releases the client. Idempotent.
func (s *Sink) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
