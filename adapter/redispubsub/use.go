package redispubsub

import (
	"fmt"

	"github.com/trickstertwo/xrelay"
)

// Adapter: Redis Pub/Sub Subscriber (Strategy + Adapter patterns)

// SubscriberName is the name the Pub/Sub subscriber registers under.
const SubscriberName = "redis-pubsub"

func init() {
	if err := xrelay.RegisterSubscriber(SubscriberName, func(cfg map[string]any) (xrelay.Subscriber, error) {
		return NewSubscriber(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrelay: failed to register subscriber %q: %w", SubscriberName, err))
	}
}

// Use builds a Relay fed by Redis Pub/Sub and installs it as the default Relay.
// The relay is not started.
func Use(cfg Config, opts ...Option) *xrelay.Relay {
	rb := xrelay.NewRelayBuilder().
		WithSubscriber(SubscriberName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(rb)
		}
	}
	r, err := rb.Build()
	if err != nil {
		panic(fmt.Errorf("redispubsub.Use: %w", err))
	}

	xrelay.SetDefault(r)
	return r
}
