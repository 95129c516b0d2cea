// Command xrelay subscribes to log topics on Redis, persists each message and
// streams it to every connected websocket client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/adapter/metrics"
	"github.com/trickstertwo/xrelay/adapter/redispubsub"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zcfg := zerolog.Config{
		Console:           cfg.LogConsole,
		ConsoleTimeFormat: time.RFC3339Nano,
		Caller:            true,
		CallerSkip:        5,
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		zcfg.MinLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(zcfg).With(xlog.Str("app", "xrelay"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("xrelay stopped")
		os.Exit(1)
	}
	logger.Info().Msg("xrelay stopped")
}

func run(ctx context.Context, cfg config, logger *xlog.Logger) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sink, mws, err := openSink(connectCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s sink: %w", cfg.Sink, err)
	}

	sc := redispubsub.Defaults()
	sc.Addr = cfg.RedisAddr
	sc.Password = cfg.RedisPassword
	sc.DB = cfg.RedisDB
	sc.MaxReconnects = cfg.MaxReconnects
	sub, err := redispubsub.NewSubscriber(sc)
	if err != nil {
		_ = sink.Close(ctx)
		return fmt.Errorf("connect bus: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay, _, err := xrelay.New(func(b *xrelay.RelayBuilder) {
		b.WithLogger(logger).
			WithSubscriberInstance(sub).
			WithSinkInstance(sink).
			WithSinkMiddleware(mws...).
			WithPattern(cfg.TopicPattern).
			WithCodec(cfg.FrameCodec).
			WithMaxConns(cfg.MaxConns).
			WithClientQueue(cfg.ClientQueue, 5*time.Second).
			WithSlowClientTimeout(cfg.SlowClient).
			WithPersistence(1024, 1, 4*cfg.StoreTimeout).
			WithObserver(metrics.NewObserver(reg))
	})
	if err != nil {
		_ = sink.Close(ctx)
		_ = sub.Close(ctx)
		return err
	}

	if err := relay.Start(connectCtx); err != nil {
		_ = relay.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newMux(relay, reg, cfg.WSPath, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("ws_path", cfg.WSPath).Str("pattern", relay.Pattern()).Msg("xrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-relay.Err():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), relay.Close(shutdownCtx))
	})
	return g.Wait()
}
