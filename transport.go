package xrelay

import (
	"errors"
	"sync"
)

// SubscriberFactory constructs bus subscribers from a config blob.
type SubscriberFactory func(cfg map[string]any) (Subscriber, error)

var (
	subscriberRegistryMu sync.RWMutex
	subscriberRegistry   = map[string]SubscriberFactory{}
)

// RegisterSubscriber registers a bus adapter.
func RegisterSubscriber(name string, factory SubscriberFactory) error {
	if name == "" {
		return errors.New("subscriber name must not be empty")
	}
	if factory == nil {
		return errors.New("subscriber factory must not be nil")
	}
	subscriberRegistryMu.Lock()
	subscriberRegistry[name] = factory
	subscriberRegistryMu.Unlock()
	return nil
}

// NewSubscriber constructs a subscriber by name with config.
func NewSubscriber(name string, cfg map[string]any) (Subscriber, error) {
	subscriberRegistryMu.RLock()
	f, ok := subscriberRegistry[name]
	subscriberRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownSubscriber{name: name}
	}
	return f(cfg)
}
