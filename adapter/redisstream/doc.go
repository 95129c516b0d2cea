// Package redisstream provides a Redis Streams persistence sink for xrelay.
//
// Sink name: "redis-stream"
//
// Each message becomes one stream entry with a single field, msg, holding the
// payload text.
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - username, password, db, tls, tls_server_name, pool_size, min_idle_conns
// - stream: stream key (default "logs")
// - max_len_approx: XADD MAXLEN ~ bound (default 0, untrimmed)
//
// Example builder usage:
//
//	relay, _ := xrelay.NewRelayBuilder().
//	    WithSubscriber(redispubsub.SubscriberName, map[string]any{"addr": "localhost:6379"}).
//	    WithSink(redisstream.SinkName, map[string]any{
//	        "addr":           "localhost:6379",
//	        "stream":         "logs",
//	        "max_len_approx": int64(1_000_000),
//	    }).
//	    Build()
package redisstream
