// Package postgres provides a Postgres persistence sink for xrelay built on
// pgx's connection pool. Each message becomes one row of (id, msg, received_at).
//
//	sink, err := postgres.NewSink(ctx, postgres.Config{URL: os.Getenv("DATABASE_URL"), Table: "logs", EnsureSchema: true})
//	relay, closeFn, err := xrelay.New(func(b *xrelay.RelayBuilder) {
//		b.WithSubscriber(redispubsub.SubscriberName, nil).WithSinkInstance(sink)
//	})
package postgres
