// Package ws adapts a websocket connection into a protocol conduit so remote
// viewers can drive sandbox sessions over the same message layer in-process
// peers use.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Upgrader is the shared websocket upgrader for viewer connections.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conduit moves raw frames over a websocket connection. Frames are binary
// messages; the envelope semantics stay with the transport.
type Conduit struct {
	conn   *websocket.Conn
	logger *logging.Logger

	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

// NewConduit wraps an upgraded connection and starts its read pump.
func NewConduit(conn *websocket.Conn, logger *logging.Logger) *Conduit {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Conduit{
		conn:   conn,
		logger: logger.Named("ws"),
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go c.readPump()
	return c
}

// Send writes one frame, honoring context cancellation via the write
// deadline.
func (c *Conduit) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return protocol.ErrConduitClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Receive returns the inbound frame channel. It closes when the connection
// drops.
func (c *Conduit) Receive() <-chan []byte {
	return c.in
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conduit) Close() error {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conduit) readPump() {
	defer close(c.in)
	defer c.Close()

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		select {
		case c.in <- frame:
		case <-c.closed:
			return
		}
	}
}
