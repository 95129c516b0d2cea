package main

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/adapter/postgres"
	"github.com/trickstertwo/xrelay/adapter/redisstream"
	"github.com/trickstertwo/xrelay/adapter/sqlite"
)

// openSink connects the configured store and returns the middlewares it runs behind.
func openSink(ctx context.Context, cfg config, logger *xlog.Logger) (xrelay.Sink, []xrelay.SinkMiddleware, error) {
	retry := xrelay.RetryConfig{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			// 50ms, 100ms, 200ms
			return time.Duration(50*int64(1<<uint(attempt-1))) * time.Millisecond
		},
	}

	var (
		sink xrelay.Sink
		err  error
	)
	switch cfg.Sink {
	case "none":
		return xrelay.DiscardSink{}, nil, nil
	case "postgres":
		sink, err = postgres.NewSink(ctx, postgres.Config{
			URL:          cfg.DatabaseURL,
			Table:        cfg.LogTable,
			EnsureSchema: true,
		})
	case "sqlite":
		sink, err = sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Table: cfg.LogTable})
		retry.RetryIf = sqlite.IsBusy
	default:
		rc := redisstream.Defaults()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.Stream = cfg.Stream
		rc.MaxLenApprox = cfg.StreamMaxLen
		sink, err = redisstream.NewSink(rc)
	}
	if err != nil {
		return nil, nil, err
	}

	mws := []xrelay.SinkMiddleware{
		xrelay.BreakerSink(xrelay.BreakerConfig{
			Name: cfg.Sink,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("sink circuit breaker state changed")
			},
		}),
		xrelay.RetrySink(retry),
		xrelay.TimeoutSink(cfg.StoreTimeout),
	}
	return sink, mws, nil
}
