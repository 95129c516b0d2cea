package xrelay

import (
	"sync"
)

var (
	defaultRelay   *Relay
	defaultRelayMu sync.Mutex
)

// Default returns the process-wide Relay, building it with init on first use.
// Later calls ignore init.
func Default(init func(b *RelayBuilder)) (*Relay, error) {
	defaultRelayMu.Lock()
	defer defaultRelayMu.Unlock()

	if defaultRelay != nil {
		return defaultRelay, nil
	}
	b := NewRelayBuilder()
	if init != nil {
		init(b)
	}
	r, err := b.Build()
	if err != nil {
		return nil, err
	}
	defaultRelay = r
	return defaultRelay, nil
}

// SetDefault replaces the process-wide Relay.
func SetDefault(r *Relay) {
	if r == nil {
		panic("xrelay: SetDefault called with nil Relay")
	}
	defaultRelayMu.Lock()
	defaultRelay = r
	defaultRelayMu.Unlock()
}
