package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/adapter/websocket"
)

type healthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Connections int    `json:"connections"`
	Received    uint64 `json:"received"`
}

func newMux(relay *xrelay.Relay, reg *prometheus.Registry, wsPath string, logger *xlog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(wsPath, websocket.NewHandler(relay, websocket.HandlerConfig{Logger: logger}))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := relay.Health(r.Context())
		code := http.StatusOK
		if h.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:      h.Status,
			Message:     h.Message,
			Connections: h.Metrics.Connections,
			Received:    h.Metrics.Received,
		})
	})
	return mux
}
