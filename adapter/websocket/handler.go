package websocket

import (
	"errors"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrelay"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 512
)

// HandlerConfig tunes the ingress gateway.
type HandlerConfig struct {
	// PingInterval between keepalive pings (default 30s).
	PingInterval time.Duration
	// PongWait is how long a silent client is kept (default 60s).
	PongWait time.Duration
	// WriteTimeout bounds a frame write without a ctx deadline (default 5s).
	WriteTimeout time.Duration
	// ReadLimit caps inbound message size (default 512 bytes). Inbound data is discarded.
	ReadLimit int64
	// CheckOrigin overrides the upgrader origin check. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *xlog.Logger
	Clock       xclock.Clock
}

func (c *HandlerConfig) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = xlog.Default()
	}
	if c.Clock == nil {
		c.Clock = xclock.Default()
	}
}

// Handler upgrades HTTP requests and hands each connection to a Registrar
// for the lifetime of the socket.
type Handler struct {
	registrar xrelay.Registrar
	upgrader  ws.Upgrader
	cfg       HandlerConfig
}

// NewHandler returns an http.Handler serving relay clients.
func NewHandler(registrar xrelay.Registrar, cfg HandlerConfig) *Handler {
	cfg.defaults()
	return &Handler{
		registrar: registrar,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg: cfg,
	}
}

// ServeHTTP upgrades the request and registers the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.cfg.Logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket: upgrade failed")
		return
	}
	c := NewConn(raw, h.cfg.WriteTimeout, h.cfg.Clock)
	logger := h.cfg.Logger.With(xlog.Str("conn_id", c.ID()), xlog.Str("remote", r.RemoteAddr))

	if err := h.registrar.Register(c); err != nil {
		switch {
		case errors.Is(err, xrelay.ErrRegistryFull):
			_ = c.closeWith(ws.CloseTryAgainLater, "connection limit reached")
		default:
			_ = c.closeWith(ws.CloseGoingAway, "relay unavailable")
		}
		logger.Warn().Err(err).Msg("websocket: connection rejected")
		return
	}
	logger.Debug().Msg("websocket: client connected")

	go h.keepalive(c)
	h.readLoop(c)

	h.registrar.Deregister(c)
	_ = c.Close()
	logger.Debug().Msg("websocket: client disconnected")
}

// readLoop blocks until the client goes away. Inbound messages are discarded;
// reading is still needed to process pong and close frames.
func (h *Handler) readLoop(c *Conn) {
	raw := c.conn
	raw.SetReadLimit(h.cfg.ReadLimit)
	_ = raw.SetReadDeadline(h.cfg.Clock.Now().Add(h.cfg.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(h.cfg.Clock.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) keepalive(c *Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
