package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
)

// upgrader configures the WebSocket upgrader. Origin checks are done by the
// CORS middleware in front of the handler.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one dashboard connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity Identity

	send     chan []byte
	sendOnce sync.Once
	sendMu   sync.RWMutex
	sendDone bool

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, id Identity) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		identity: id,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[string]struct{}),
	}
	c.rooms[OwnerRoom(id.UserID)] = struct{}{}
	if !isOwnerScoped(id) {
		c.rooms[StaffRoom] = struct{}{}
	}
	return c
}

// Serve upgrades the request and runs the client until it disconnects.
// The caller has already authenticated the request as id.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, id)
	if !h.register(c) {
		conn.Close() //nolint:errcheck // hub is shutting down
		return
	}
	h.logger.Debug("dashboard client connected", "user_id", id.UserID, "clients", h.ClientCount())

	go c.writePump()
	c.readPump(r.Context())
}

// readPump reads client messages until the connection fails.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // already closing
		c.hub.logger.Debug("dashboard client disconnected", "user_id", c.identity.UserID)
	}()

	cfg := c.hub.cfg
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait)) //nolint:errcheck // best effort
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("dashboard websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait)) //nolint:errcheck // best effort
		c.handleMessage(ctx, data)
	}
}

// writePump drains the send channel and keeps the connection alive.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // already closing
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // ping error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.handleSubscribe(ctx, msg)
	case TypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case TypePing:
		c.reply(msg.ID, TypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe joins device rooms the identity is allowed to watch.
func (c *Client) handleSubscribe(ctx context.Context, msg Message) {
	sub, ok := c.decodeSubscribe(msg)
	if !ok {
		return
	}

	joined := make([]string, 0, len(sub.Devices))
	denied := []string{}
	for _, id := range sub.Devices {
		if c.hub.authorize(ctx, c.identity, id) {
			joined = append(joined, id)
		} else {
			denied = append(denied, id)
		}
	}

	c.mu.Lock()
	for _, id := range joined {
		c.rooms[DeviceRoom(id)] = struct{}{}
	}
	c.mu.Unlock()

	c.reply(msg.ID, TypeResponse, map[string]any{
		"subscribed": joined,
		"denied":     denied,
	})
}

func (c *Client) handleUnsubscribe(msg Message) {
	sub, ok := c.decodeSubscribe(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, id := range sub.Devices {
		delete(c.rooms, DeviceRoom(id))
	}
	c.mu.Unlock()

	c.reply(msg.ID, TypeResponse, map[string]any{"unsubscribed": sub.Devices})
}

func (c *Client) decodeSubscribe(msg Message) (SubscribePayload, bool) {
	var sub SubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return sub, false
	}
	return sub, true
}

// inAny reports whether the client is in at least one of rooms.
func (c *Client) inAny(rooms []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range rooms {
		if _, ok := c.rooms[r]; ok {
			return true
		}
	}
	return false
}

// trySend queues data without blocking. It returns false if the client is
// gone or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendDone {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once; trySend holds the read lock so a
// send can never race the close.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		c.sendMu.Lock()
		c.sendDone = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

func (c *Client) reply(id, msgType string, payload any) {
	data, err := json.Marshal(Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(id, message string) {
	c.reply(id, TypeError, map[string]string{"message": message})
}

// isOwnerScoped treats unknown roles like users.
func isOwnerScoped(id Identity) bool {
	return auth.IsOwnerScoped(id.Role) || !auth.IsValidRole(id.Role)
}
