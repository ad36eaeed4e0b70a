package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

// Message types on the dashboard socket.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeResponse    = "response"
	TypeError       = "error"

	// StaffRoom receives every event.
	StaffRoom = "staff"

	// sendBufferSize is the per-client outbound message buffer size.
	sendBufferSize = 256
)

// ErrHubClosed is returned by Notify calls after Close.
var ErrHubClosed = errors.New("notify: hub closed")

// Message is the envelope sent to and from dashboard clients.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SubscribePayload is the payload for subscribe/unsubscribe messages.
type SubscribePayload struct {
	Devices []string `json:"devices"`
}

// Identity is the authenticated caller behind a dashboard socket.
type Identity struct {
	UserID string
	Role   auth.Role
}

// DeviceAuthorizer decides whether an identity may watch a device room.
type DeviceAuthorizer func(ctx context.Context, id Identity, deviceID string) bool

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hub manages dashboard connections and fans events out to rooms.
type Hub struct {
	cfg       config.WebSocketConfig
	authorize DeviceAuthorizer
	logger    Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

var _ dispatch.Notifier = (*Hub)(nil)

// NewHub creates a hub. authorize gates device room subscriptions; nil
// allows every subscription.
func NewHub(cfg config.WebSocketConfig, authorize DeviceAuthorizer) *Hub {
	if authorize == nil {
		authorize = func(context.Context, Identity, string) bool { return true }
	}
	return &Hub{
		cfg:       cfg,
		authorize: authorize,
		logger:    noopLogger{},
		clients:   make(map[*Client]struct{}),
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// OwnerRoom returns the room name for a user's own events.
func OwnerRoom(userID string) string { return "owner:" + userID }

// DeviceRoom returns the room name for one lock.
func DeviceRoom(deviceID string) string { return "device:" + deviceID }

// NotifyOwner sends event to the owner's room and to staff.
func (h *Hub) NotifyOwner(_ context.Context, ownerID, event string, data any) error {
	rooms := []string{StaffRoom}
	if ownerID != "" {
		rooms = append(rooms, OwnerRoom(ownerID))
	}
	return h.broadcast(event, data, rooms...)
}

// NotifyDeviceRoom sends event to watchers of the device and to staff.
func (h *Hub) NotifyDeviceRoom(_ context.Context, deviceID, event string, data any) error {
	return h.broadcast(event, data, StaffRoom, DeviceRoom(deviceID))
}

// broadcast delivers one event to every client in any of rooms.
// The client list is snapshotted under the hub lock; sends happen outside it.
func (h *Hub) broadcast(event string, payload any, rooms ...string) error {
	data, err := json.Marshal(Message{
		Type:      TypeEvent,
		EventType: event,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.inAny(rooms) && c.trySend(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("event delivered", "event", event, "recipients", sent)
	}
	return nil
}

// register adds a client. It returns false after Close.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes a client. Only the caller that removes the client from
// the map closes its send channel, preventing double-close during shutdown.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		c.closeSend()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run blocks until ctx is cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Close disconnects every client. Later Notify calls return ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	for c := range clients {
		c.closeSend()
		if c.conn != nil {
			c.conn.Close() //nolint:errcheck // best effort on shutdown
		}
	}
}
