package dispatch

import (
	"context"
	"time"
)

// Audit event types.
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventCommandSent        = "command_sent"
	EventCommandExecuted    = "command_executed"
	EventCommandFailed      = "command_failed"
	EventLowBattery         = "low_battery"
)

// Notification event names.
const (
	NotifyDeviceStatus    = "device_status"
	NotifyCommandResult   = "command_result"
	NotifyCommandProgress = "command_progress"
	NotifyDeviceAlert     = "device_alert"
)

// Directory is the durable device store. The manager writes to it as a
// best-effort mirror and never reads status back.
type Directory interface {
	UpdateStatus(ctx context.Context, deviceID string, status Status, lastSeen time.Time, metadataPatch map[string]any) error
	FindOwner(ctx context.Context, deviceID string) (string, error)
}

// AuditEvent is one entry for the audit sink.
type AuditEvent struct {
	DeviceID  string
	EventType string
	CommandID string
	UserID    string
	Payload   map[string]any
	At        time.Time
}

// AuditSink records audit events.
type AuditSink interface {
	LogEvent(ctx context.Context, ev AuditEvent) error
}

// Notifier pushes events to dashboards.
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerID, event string, data any) error
	NotifyDeviceRoom(ctx context.Context, deviceID, event string, data any) error
}

// Telemetry records time-series metrics. Writes are non-blocking.
type Telemetry interface {
	WriteHeartbeat(deviceID, transport string, fields map[string]float64, ts time.Time)
	WriteCommandOutcome(deviceID, commandType, state string, latency time.Duration)
}

// Logger defines the logging interface used by the Manager.
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

type noopDirectory struct{}

func (noopDirectory) UpdateStatus(context.Context, string, Status, time.Time, map[string]any) error {
	return nil
}
func (noopDirectory) FindOwner(context.Context, string) (string, error) { return "", nil }

type noopAudit struct{}

func (noopAudit) LogEvent(context.Context, AuditEvent) error { return nil }

type noopNotifier struct{}

func (noopNotifier) NotifyOwner(context.Context, string, string, any) error      { return nil }
func (noopNotifier) NotifyDeviceRoom(context.Context, string, string, any) error { return nil }

type noopTelemetry struct{}

func (noopTelemetry) WriteHeartbeat(string, string, map[string]float64, time.Time) {}
func (noopTelemetry) WriteCommandOutcome(string, string, string, time.Duration)    {}
