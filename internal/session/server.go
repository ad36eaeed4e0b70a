package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

// Authenticator checks a lock's connection credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID, token string) (*device.Device, error)
}

// Ingest is the part of the dispatch manager the channel feeds.
type Ingest interface {
	OnTransportConnect(ctx context.Context, ev dispatch.ConnectEvent) error
	OnTransportDisconnect(ctx context.Context, ev dispatch.DisconnectEvent) error
	OnHeartbeat(ctx context.Context, ev dispatch.HeartbeatEvent) error
	OnAck(ctx context.Context, ev dispatch.AckEvent) error
}

// Logger defines the logging interface used by the Server.
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

// Disconnect reasons.
const (
	ReasonClosed   = "socket_closed"
	ReasonShutdown = "shutdown"
	ReasonReplaced = "replaced"
)

// Server accepts lock sockets. It implements http.Handler.
type Server struct {
	cfg      config.SessionConfig
	auth     Authenticator
	ingest   Ingest
	logger   Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	// current is the registered socket per device; gates serialize
	// registration for one device.
	current map[string]*conn
	gates   map[string]*gate
}

type gate struct {
	mu   sync.Mutex
	refs int
}

// NewServer creates a device channel server.
func NewServer(cfg config.SessionConfig, auth Authenticator, ingest Ingest) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return &Server{
		cfg:    cfg,
		auth:   auth,
		ingest: ingest,
		logger: noopLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Locks are not browsers; there is no Origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:   make(map[*conn]struct{}),
		current: make(map[string]*conn),
		gates:   make(map[string]*gate),
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// credentials reads the device ID and token from headers, falling back to
// query parameters for firmware that cannot set headers on the upgrade.
func credentials(r *http.Request) (deviceID, token string) {
	deviceID = r.Header.Get("X-Device-ID")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	q := r.URL.Query()
	if deviceID == "" {
		deviceID = q.Get("device_id")
	}
	if token == "" {
		token = q.Get("token")
	}
	return deviceID, token
}

// ServeHTTP authenticates the lock, upgrades the connection and runs the
// session until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID, token := credentials(r)
	if _, err := s.auth.Authenticate(r.Context(), deviceID, token); err != nil {
		if !errors.Is(err, device.ErrInvalidCredentials) {
			s.logger.Error("device authentication failed", "device_id", deviceID, "error", err)
			http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
			return
		}
		s.logger.Warn("device rejected", "device_id", deviceID, "remote_addr", r.RemoteAddr)
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	if s.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("device websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	c := newConn(s, ws, deviceID)
	if !s.track(c) {
		ws.Close() //nolint:errcheck // shutting down
		return
	}

	// Connection lifetime is not tied to the HTTP request.
	ctx := context.WithoutCancel(r.Context())
	handle := dispatch.NewSessionHandle(c)

	go c.writePump()

	g := s.lockDevice(deviceID)
	err = s.ingest.OnTransportConnect(ctx, dispatch.ConnectEvent{
		DeviceID: deviceID,
		Handle:   handle,
		Metadata: map[string]any{
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		},
	})
	var prev *conn
	if err == nil {
		prev = s.replace(c)
	}
	s.unlockDevice(deviceID, g)
	if err != nil {
		s.logger.Warn("session registration rejected", "device_id", deviceID, "error", err)
		c.close()
		s.untrack(c)
		return
	}
	if prev != nil {
		s.logger.Info("closing replaced device session", "device_id", deviceID)
		prev.shutdown(ReasonReplaced)
	}
	s.logger.Info("device session opened", "device_id", deviceID, "remote_addr", r.RemoteAddr)

	reason := c.readPump(ctx)

	s.untrack(c)
	c.close()
	if err := s.ingest.OnTransportDisconnect(ctx, dispatch.DisconnectEvent{
		DeviceID: deviceID,
		Kind:     dispatch.TransportSession,
		Handle:   handle,
		Reason:   reason,
	}); err != nil {
		s.logger.Warn("session disconnect rejected", "device_id", deviceID, "error", err)
	}
	s.logger.Info("device session closed", "device_id", deviceID, "reason", reason)
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	if s.current[c.deviceID] == c {
		delete(s.current, c.deviceID)
	}
	s.mu.Unlock()
}

// replace makes c the device's current socket and returns the one it
// displaced, if that one is still open.
func (s *Server) replace(c *conn) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current[c.deviceID]
	s.current[c.deviceID] = c
	if prev == c {
		return nil
	}
	if _, open := s.conns[prev]; !open {
		return nil
	}
	return prev
}

func (s *Server) lockDevice(deviceID string) *gate {
	s.mu.Lock()
	g, ok := s.gates[deviceID]
	if !ok {
		g = &gate{}
		s.gates[deviceID] = g
	}
	g.refs++
	s.mu.Unlock()

	g.mu.Lock()
	return g
}

func (s *Server) unlockDevice(deviceID string, g *gate) {
	g.mu.Unlock()

	s.mu.Lock()
	g.refs--
	if g.refs == 0 {
		delete(s.gates, deviceID)
	}
	s.mu.Unlock()
}

// ConnectionCount returns the number of open lock sockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close closes every socket and refuses new ones. Each closed session
// still reports its disconnect to the manager.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown(ReasonShutdown)
	}
}

// dispatchFrame routes one inbound frame.
func (s *Server) dispatchFrame(ctx context.Context, c *conn, f Frame) {
	switch f.Event {
	case EventHeartbeat:
		var metrics map[string]any
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &metrics); err != nil {
				c.sendError("invalid heartbeat payload")
				return
			}
		}
		if err := s.ingest.OnHeartbeat(ctx, dispatch.HeartbeatEvent{
			DeviceID: c.deviceID,
			Kind:     dispatch.TransportSession,
			Metrics:  metrics,
		}); err != nil {
			s.logger.Debug("heartbeat rejected", "device_id", c.deviceID, "error", err)
		}

	case EventCommandAck:
		var ack dispatch.AckMessage
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			c.sendError("invalid command_ack payload")
			return
		}
		if err := ack.Validate(); err != nil {
			c.sendError(err.Error())
			return
		}
		if err := s.ingest.OnAck(ctx, ack.Event(c.deviceID)); err != nil {
			c.sendError(err.Error())
		}

	case EventPing:
		c.enqueue(EventPong, nil) //nolint:errcheck // best effort

	default:
		c.sendError("unknown event: " + f.Event)
	}
}

func (s *Server) pingInterval() time.Duration {
	return time.Duration(s.cfg.PingInterval) * time.Second
}

func (s *Server) pongTimeout() time.Duration {
	return time.Duration(s.cfg.PongTimeout) * time.Second
}
