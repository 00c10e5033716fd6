package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// wsConn adapts a WebSocket to domain.Conn. The connection owns a bounded
// outbound queue drained by a dedicated write loop, so a slow or
// unresponsive consumer never blocks the coordinator.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	sendCh    chan any
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	logger    *slog.Logger
}

func newWSConn(id string, ws *websocket.Conn, buffer int, logger *slog.Logger) *wsConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &wsConn{
		id:     id,
		ws:     ws,
		sendCh: make(chan any, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues msg for delivery. When the buffer is full the message is
// dropped and false returned; the protocol is heartbeat-driven, so a healthy
// client recovers from drops on the next cycle.
func (c *wsConn) Send(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- msg:
		return true
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("outbound buffer full, dropping message",
			"conn_id", c.id,
			"dropped_total", n,
		)
		return false
	}
}

// Close tears the connection down. Safe to call multiple times; the first
// reason wins.
func (c *wsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, reason)
	})
}

// writeLoop drains the outbound queue until the connection closes.
func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, msg)
			cancel()
			if err != nil {
				c.Close("write failed")
				return
			}
		}
	}
}
