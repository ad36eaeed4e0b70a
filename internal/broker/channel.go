package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Kenox00/door-lock-sub001/internal/device"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/mqtt"
)

// Device status values on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ReasonOffline is the disconnect reason when a lock announces offline
// without giving one.
const ReasonOffline = "offline"

// ErrInvalidMessage is returned for payloads that cannot be decoded.
var ErrInvalidMessage = errors.New("broker: invalid message")

// Ingest is the part of the dispatch manager the channel feeds.
type Ingest interface {
	OnTransportConnect(ctx context.Context, ev dispatch.ConnectEvent) error
	OnTransportDisconnect(ctx context.Context, ev dispatch.DisconnectEvent) error
	OnHeartbeat(ctx context.Context, ev dispatch.HeartbeatEvent) error
	OnAck(ctx context.Context, ev dispatch.AckEvent) error
	RenewBrokerPresence(deviceID string)
	HasTransport(deviceID string, kind dispatch.TransportKind) bool
}

// DeviceLookup reports whether a device is provisioned. Messages for unknown
// devices are dropped.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Logger defines the logging interface used by the Channel.
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

// statusMessage is the payload on a device status topic. Plain "online" or
// "offline" strings are accepted too.
type statusMessage struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// Channel subscribes to the device topics and turns broker traffic into
// dispatch events.
type Channel struct {
	bus     Bus
	topics  mqtt.Topics
	ingest  Ingest
	devices DeviceLookup
	logger  Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewChannel creates a broker channel. devices may be nil to accept every
// device ID.
func NewChannel(bus Bus, topics mqtt.Topics, ingest Ingest, devices DeviceLookup) *Channel {
	return &Channel{
		bus:     bus,
		topics:  topics,
		ingest:  ingest,
		devices: devices,
		logger:  noopLogger{},
		ctx:     context.Background(),
	}
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.logger = logger
}

func (c *Channel) subscriptions() []string {
	return []string{
		c.topics.AllDeviceStatus(),
		c.topics.AllDeviceHeartbeats(),
		c.topics.AllDeviceAcks(),
	}
}

// Start subscribes to every device topic. Events are delivered with a
// context derived from ctx.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	for _, topic := range c.subscriptions() {
		if err := c.bus.Subscribe(topic, c.HandleMessage); err != nil {
			c.Stop()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	c.logger.Info("broker channel started", "subscriptions", len(c.subscriptions()))
	return nil
}

// Stop removes the subscriptions.
func (c *Channel) Stop() {
	for _, topic := range c.subscriptions() {
		if err := c.bus.Unsubscribe(topic); err != nil {
			c.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Channel) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// HandleMessage routes one broker message by its topic kind.
func (c *Channel) HandleMessage(topic string, payload []byte) error {
	deviceID, kind, ok := c.topics.ParseDeviceTopic(topic)
	if !ok || kind == mqtt.KindCommand {
		return nil
	}

	ctx := c.baseContext()
	if !c.known(ctx, deviceID) {
		c.logger.Warn("broker message from unknown device", "device_id", deviceID, "topic", topic)
		return nil
	}

	switch kind {
	case mqtt.KindStatus:
		return c.handleStatus(ctx, deviceID, payload)
	case mqtt.KindHeartbeat:
		return c.handleHeartbeat(ctx, deviceID, payload)
	case mqtt.KindAck:
		return c.handleAck(ctx, deviceID, payload)
	}
	return nil
}

func (c *Channel) known(ctx context.Context, deviceID string) bool {
	if c.devices == nil {
		return true
	}
	_, err := c.devices.GetDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		c.logger.Error("device lookup failed", "device_id", deviceID, "error", err)
	}
	return err == nil
}

// handle returns a fresh handle for the device's command topic.
func (c *Channel) handle(deviceID string) *dispatch.BrokerHandle {
	return dispatch.NewBrokerHandle(c.bus, c.topics.DeviceCommand(deviceID))
}

func parseStatus(payload []byte) (statusMessage, error) {
	raw := strings.TrimSpace(string(payload))
	switch raw {
	case StatusOnline, StatusOffline:
		return statusMessage{Status: raw}, nil
	}
	var msg statusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return statusMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Status != StatusOnline && msg.Status != StatusOffline {
		return statusMessage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, msg.Status)
	}
	return msg, nil
}

func (c *Channel) handleStatus(ctx context.Context, deviceID string, payload []byte) error {
	// A retained status may be cleared with an empty payload.
	if len(payload) == 0 {
		return nil
	}
	msg, err := parseStatus(payload)
	if err != nil {
		return err
	}

	if msg.Status == StatusOffline {
		reason := msg.Reason
		if reason == "" {
			reason = ReasonOffline
		}
		return c.ingest.OnTransportDisconnect(ctx, dispatch.DisconnectEvent{
			DeviceID: deviceID,
			Kind:     dispatch.TransportBroker,
			Reason:   reason,
		})
	}

	meta := map[string]any{"channel": "broker"}
	if msg.Firmware != "" {
		meta["firmware"] = msg.Firmware
	}
	return c.ingest.OnTransportConnect(ctx, dispatch.ConnectEvent{
		DeviceID: deviceID,
		Handle:   c.handle(deviceID),
		Metadata: meta,
	})
}

// handleHeartbeat registers the broker transport on first contact, so a lock
// that never published a status is still reachable.
func (c *Channel) handleHeartbeat(ctx context.Context, deviceID string, payload []byte) error {
	var metrics map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &metrics); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	}

	if !c.ingest.HasTransport(deviceID, dispatch.TransportBroker) {
		if err := c.ingest.OnTransportConnect(ctx, dispatch.ConnectEvent{
			DeviceID: deviceID,
			Handle:   c.handle(deviceID),
			Metadata: map[string]any{"channel": "broker"},
		}); err != nil {
			return err
		}
	}

	return c.ingest.OnHeartbeat(ctx, dispatch.HeartbeatEvent{
		DeviceID: deviceID,
		Kind:     dispatch.TransportBroker,
		Metrics:  metrics,
	})
}

func (c *Channel) handleAck(ctx context.Context, deviceID string, payload []byte) error {
	var ack dispatch.AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := ack.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	c.ingest.RenewBrokerPresence(deviceID)
	return c.ingest.OnAck(ctx, ack.Event(deviceID))
}
