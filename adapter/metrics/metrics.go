// Package metrics exports relay events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xrelay"
)

const namespace = "xrelay"

// Observer is an xrelay.Observer that updates Prometheus collectors.
type Observer struct {
	MessagesReceived  prometheus.Counter
	StoreTotal        *prometheus.CounterVec
	StoreDuration     prometheus.Histogram
	Connections       prometheus.Gauge
	ConnectionsClosed *prometheus.CounterVec
	Reconnects        prometheus.Counter
	BroadcastDuration prometheus.Histogram
	SubscriptionUp    prometheus.Gauge
	Errors            prometheus.Counter
}

var _ xrelay.Observer = (*Observer)(nil)

// NewObserver creates the relay metrics and registers them on reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total log messages received from the bus.",
		}),
		StoreTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_total",
			Help:      "Persistence attempts by status (ok, failed, dropped).",
		}, []string{"status"}),
		StoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Time spent storing one message.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently registered client connections.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_removed_total",
			Help:      "Connections removed from the registry by reason.",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_reconnects_total",
			Help:      "Bus reconnect attempts.",
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to hand one message to every connection queue.",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1},
		}),
		SubscriptionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_up",
			Help:      "1 while the bus subscription is active.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Internal relay errors such as frame encoding failures.",
		}),
	}

	reg.MustRegister(
		o.MessagesReceived, o.StoreTotal, o.StoreDuration, o.Connections,
		o.ConnectionsClosed, o.Reconnects, o.BroadcastDuration, o.SubscriptionUp, o.Errors,
	)
	return o
}

// OnEvent maps one relay event onto the collectors.
func (o *Observer) OnEvent(e xrelay.Event) {
	switch e.Type {
	case xrelay.EventReceived:
		o.MessagesReceived.Inc()
	case xrelay.EventStored:
		o.StoreTotal.WithLabelValues("ok").Inc()
		o.StoreDuration.Observe(e.Duration.Seconds())
	case xrelay.EventStoreFailed:
		o.StoreTotal.WithLabelValues("failed").Inc()
		o.StoreDuration.Observe(e.Duration.Seconds())
	case xrelay.EventStoreDropped:
		o.StoreTotal.WithLabelValues("dropped").Inc()
	case xrelay.EventBroadcast:
		o.BroadcastDuration.Observe(e.Duration.Seconds())
	case xrelay.EventRegistered:
		o.Connections.Set(float64(e.Conns))
	case xrelay.EventDeregistered:
		o.Connections.Set(float64(e.Conns))
		o.ConnectionsClosed.WithLabelValues("client").Inc()
	case xrelay.EventEvicted:
		o.Connections.Set(float64(e.Conns))
		o.ConnectionsClosed.WithLabelValues("slow").Inc()
	case xrelay.EventWriteFailed:
		o.Connections.Set(float64(e.Conns))
		o.ConnectionsClosed.WithLabelValues("write_failed").Inc()
	case xrelay.EventReconnecting:
		o.Reconnects.Inc()
	case xrelay.EventSubscribed:
		o.SubscriptionUp.Set(1)
	case xrelay.EventSubscriptionLost:
		o.SubscriptionUp.Set(0)
	case xrelay.EventError:
		o.Errors.Inc()
	}
}
