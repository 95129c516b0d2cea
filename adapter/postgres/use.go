package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/trickstertwo/xrelay"
)

// SinkName is the name the Postgres sink registers under.
const SinkName = "postgres"

func init() {
	if err := xrelay.RegisterSink(SinkName, func(cfg map[string]any) (xrelay.Sink, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return NewSink(ctx, ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrelay: failed to register sink %q: %w", SinkName, err))
	}
}
