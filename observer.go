package xrelay

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits relay events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("pattern", e.Pattern),
		xlog.Str("topic", e.Topic),
		xlog.Str("conn_id", e.ConnID),
	)
	switch e.Type {
	case EventSubscriptionLost, EventError:
		ev.Error().Err(e.Err).Msg("xrelay event")
	case EventReconnecting, EventStoreFailed, EventWriteFailed:
		ev.Warn().Err(e.Err).Msg("xrelay event")
	case EventSubscribed:
		ev.Info().Msg("xrelay event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xrelay event")
	}
}
