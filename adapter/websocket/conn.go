package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/trickstertwo/xclock"

	"github.com/trickstertwo/xrelay"
)

// ErrConnClosed is returned by Send after Close.
var ErrConnClosed = errors.New("websocket: connection closed")

const closeGrace = time.Second

// Conn adapts a gorilla connection to xrelay.Conn. Every frame is one text message.
type Conn struct {
	id           string
	conn         *ws.Conn
	clock        xclock.Clock
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ xrelay.Conn = (*Conn)(nil)

// NewConn wraps an upgraded connection with a random ID.
func NewConn(conn *ws.Conn, writeTimeout time.Duration, clock xclock.Clock) *Conn {
	if clock == nil {
		clock = xclock.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Conn{
		id:           uuid.NewString(),
		conn:         conn,
		clock:        clock,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// ID returns the connection's random UUID, assigned at upgrade.
func (c *Conn) ID() string { return c.id }

// Send writes frame as one text message. The write deadline is the ctx
// deadline when set, otherwise now plus the write timeout.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = c.clock.Now().Add(c.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(ws.TextMessage, frame)
}

// ping sends a control ping. WriteControl is safe alongside WriteMessage.
func (c *Conn) ping() error {
	return c.conn.WriteControl(ws.PingMessage, nil, c.clock.Now().Add(c.writeTimeout))
}

// Close sends a going-away close frame and closes the socket. Idempotent.
func (c *Conn) Close() error {
	return c.closeWith(ws.CloseGoingAway, "connection closed by relay")
}

func (c *Conn) closeWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := ws.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(ws.CloseMessage, msg, c.clock.Now().Add(closeGrace))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }
