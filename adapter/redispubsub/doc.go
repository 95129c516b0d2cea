// Package redispubsub provides a Redis Pub/Sub subscriber for xrelay.
//
// Subscriber name: "redis-pubsub"
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - username, password, db, tls, tls_server_name, pool_size
// - health_check_interval: silence before a PING probe (default 30s)
// - max_reconnects: consecutive failures before the subscription is lost (default 10, 0 = forever)
// - backoff_min, backoff_max: reconnect pacing (default 100ms, 5s)
//
// Topic patterns use the AMQP form ("logs.#") or Redis globs ("logs.*").
//
// Example builder usage:
//
//	relay, _ := xrelay.NewRelayBuilder().
//	    WithSubscriber(redispubsub.SubscriberName, map[string]any{
//	        "addr":           "localhost:6379",
//	        "max_reconnects": 20,
//	    }).
//	    WithPattern("logs.#").
//	    Build()
//	_ = relay.Start(ctx)
package redispubsub
