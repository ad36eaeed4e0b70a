package dispatch

import (
	"maps"
	"time"
)

// TransportKind identifies one of the two device channels.
type TransportKind string

const (
	TransportSession TransportKind = "session"
	TransportBroker  TransportKind = "broker"
)

// Status is the connection status of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// CommandType is one of the closed set of commands a lock understands.
type CommandType string

const (
	CommandUnlockDoor      CommandType = "unlock_door"
	CommandLockDoor        CommandType = "lock_door"
	CommandRequestSnapshot CommandType = "request_snapshot"
	CommandUpdateSettings  CommandType = "update_settings"
	CommandRestart         CommandType = "restart"
	CommandFirmwareUpdate  CommandType = "firmware_update"
)

// CommandTypes lists every valid command type.
var CommandTypes = []CommandType{
	CommandUnlockDoor,
	CommandLockDoor,
	CommandRequestSnapshot,
	CommandUpdateSettings,
	CommandRestart,
	CommandFirmwareUpdate,
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandUnlockDoor, CommandLockDoor, CommandRequestSnapshot,
		CommandUpdateSettings, CommandRestart, CommandFirmwareUpdate:
		return true
	}
	return false
}

// CommandState is the lifecycle state of a dispatched command.
//
//	sent -> acknowledged -> executed | failed | timed_out
//	sent -> executed | failed | timed_out
type CommandState string

const (
	StateSent         CommandState = "sent"
	StateAcknowledged CommandState = "acknowledged"
	StateExecuted     CommandState = "executed"
	StateFailed       CommandState = "failed"
	StateTimedOut     CommandState = "timed_out"
)

// Terminal reports whether no further transition is possible from s.
func (s CommandState) Terminal() bool {
	return s == StateExecuted || s == StateFailed || s == StateTimedOut
}

// AckStatus is the status a device reports for a command.
type AckStatus string

const (
	AckReceived  AckStatus = "received"
	AckExecuting AckStatus = "executing"
	AckExecuted  AckStatus = "executed"
	AckFailed    AckStatus = "failed"
)

// state maps an ack status to the command state it moves to.
func (a AckStatus) state() (CommandState, bool) {
	switch a {
	case AckReceived, AckExecuting:
		return StateAcknowledged, true
	case AckExecuted:
		return StateExecuted, true
	case AckFailed:
		return StateFailed, true
	}
	return "", false
}

// Timeout reasons recorded on command_failed events.
const (
	ReasonTimeout          = "timeout"
	ReasonExecutionTimeout = "execution_timeout"
	ReasonPresenceExpired  = "presence_expired"
)

// Well-known heartbeat metric keys.
const (
	MetricBatteryLevel   = "battery_level"
	MetricSignalStrength = "signal_strength"
)

// ConnectionSnapshot is a point-in-time copy of a device connection.
type ConnectionSnapshot struct {
	DeviceID    string          `json:"device_id"`
	Status      Status          `json:"status"`
	Transports  []TransportKind `json:"transports"`
	OwnerID     string          `json:"owner_id,omitempty"`
	ConnectedAt time.Time       `json:"connected_at"`
	LastSeen    time.Time       `json:"last_seen"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// HasTransport reports whether kind is among the live transports.
func (s ConnectionSnapshot) HasTransport(kind TransportKind) bool {
	for _, k := range s.Transports {
		if k == kind {
			return true
		}
	}
	return false
}

// PendingSnapshot is a point-in-time copy of an in-flight command.
type PendingSnapshot struct {
	CommandID  string         `json:"command_id"`
	DeviceID   string         `json:"device_id"`
	Type       CommandType    `json:"command_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	State      CommandState   `json:"state"`
	IssuedBy   string         `json:"issued_by"`
	Transport  TransportKind  `json:"transport"`
	SentAt     time.Time      `json:"sent_at"`
	LastUpdate time.Time      `json:"last_update"`
}

// DispatchRequest is an operator-issued command.
type DispatchRequest struct {
	DeviceID string
	Type     CommandType
	Payload  map[string]any
	IssuedBy string
}

// DispatchResult is returned once the command has been handed to a transport.
type DispatchResult struct {
	CommandID string        `json:"command_id"`
	State     CommandState  `json:"state"`
	Transport TransportKind `json:"transport"`
}

// ConnectEvent reports a transport becoming live for a device.
type ConnectEvent struct {
	DeviceID string
	Handle   Handle
	Metadata map[string]any
}

// DisconnectEvent reports a transport going away. When Handle is set, the
// event is ignored unless that exact handle is still registered, so a late
// close of a replaced session cannot drop its successor.
type DisconnectEvent struct {
	DeviceID string
	Kind     TransportKind
	Handle   Handle
	Reason   string
}

// HeartbeatEvent carries periodic device metrics.
type HeartbeatEvent struct {
	DeviceID string
	Kind     TransportKind
	Metrics  map[string]any
}

// AckEvent is a device acknowledgment. Correlation is by CommandID only;
// DeviceID is informational.
type AckEvent struct {
	CommandID    string
	DeviceID     string
	Status       AckStatus
	ErrorMessage string
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Connected         int    `json:"connected"`
	SessionTransports int    `json:"session_transports"`
	BrokerTransports  int    `json:"broker_transports"`
	Pending           int    `json:"pending"`
	Dispatched        uint64 `json:"dispatched"`
	Executed          uint64 `json:"executed"`
	Failed            uint64 `json:"failed"`
	TimedOut          uint64 `json:"timed_out"`
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
