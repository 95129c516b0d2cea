package memory

import (
	"context"
	"sync"

	"github.com/trickstertwo/xrelay"
)

// SinkName is the name the in-memory sink registers under.
const SinkName = "memory"

// Sink keeps stored messages in memory (dev/testing).
type Sink struct {
	mu      sync.Mutex
	records []xrelay.Message
	err     error
	closed  bool
}

var _ xrelay.Sink = (*Sink)(nil)

// NewSink returns an empty in-memory sink.
func NewSink() *Sink { return &Sink{} }

// Store records msg, or fails with the error set by SetError.
func (s *Sink) Store(ctx context.Context, msg xrelay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, msg)
	return nil
}

// SetError makes every later Store fail with err; nil clears it.
func (s *Sink) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Records returns the stored payloads in store order.
func (s *Sink) Records() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, m := range s.records {
		out[i] = m.Payload
	}
	return out
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
