package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// conn is one lock socket. It implements dispatch.SessionSender.
type conn struct {
	server   *Server
	ws       *websocket.Conn
	deviceID string

	send     chan []byte
	mu       sync.RWMutex
	done     bool
	doneCh   chan struct{}
	stopOnce sync.Once

	// reason is set by shutdown before the socket is closed.
	reason string
}

var _ dispatch.SessionSender = (*conn)(nil)

func newConn(s *Server, ws *websocket.Conn, deviceID string) *conn {
	return &conn{
		server:   s,
		ws:       ws,
		deviceID: deviceID,
		send:     make(chan []byte, s.cfg.SendBuffer),
		doneCh:   make(chan struct{}),
		reason:   ReasonClosed,
	}
}

// Send queues event for the lock. It does not wait for the write.
func (c *conn) Send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.enqueue(event, payload)
}

func (c *conn) enqueue(event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.done {
		return ErrSessionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *conn) sendError(message string) {
	c.enqueue(EventError, map[string]string{"message": message}) //nolint:errcheck // best effort
}

// close stops the writer. Safe to call more than once.
func (c *conn) close() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.done = true
		close(c.doneCh)
		c.mu.Unlock()
	})
}

// shutdown closes the socket from the server side; readPump then returns
// reason.
func (c *conn) shutdown(reason string) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	c.close()
	c.ws.Close() //nolint:errcheck // unblocks readPump
}

// readPump reads frames until the socket fails and returns the disconnect
// reason.
func (c *conn) readPump(ctx context.Context) string {
	s := c.server
	wait := s.pingInterval() + s.pongTimeout()

	if s.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(int64(s.cfg.MaxMessageSize))
	}
	c.ws.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best effort
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("device socket read error", "device_id", c.deviceID, "error", err)
			}
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.reason
		}
		c.ws.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best effort

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.sendError("invalid frame")
			continue
		}
		s.dispatchFrame(ctx, c, f)
	}
}

// writePump writes queued frames and pings until the session closes.
func (c *conn) writePump() {
	s := c.server
	ticker := time.NewTicker(s.pingInterval())
	defer func() {
		ticker.Stop()
		c.ws.Close() //nolint:errcheck // already closing
	}()

	writeWait := s.pongTimeout()
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // ping error caught below
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.doneCh:
			c.drain(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // best effort
			return
		}
	}
}

// drain flushes frames queued before close.
func (c *conn) drain(writeWait time.Duration) {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
