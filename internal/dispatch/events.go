package dispatch

import "time"

// StatusChange is the notification payload for device_status.
type StatusChange struct {
	DeviceID   string          `json:"device_id"`
	Status     Status          `json:"status"`
	Transports []TransportKind `json:"transports"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// CommandOutcome is the notification payload for command_result and
// command_progress.
type CommandOutcome struct {
	CommandID   string        `json:"command_id"`
	DeviceID    string        `json:"device_id"`
	CommandType CommandType   `json:"command_type"`
	State       CommandState  `json:"state"`
	Transport   TransportKind `json:"transport"`
	IssuedBy    string        `json:"issued_by"`
	Error       string        `json:"error,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	At          time.Time     `json:"at"`
}

// DeviceAlert is the notification payload for device_alert.
type DeviceAlert struct {
	DeviceID     string    `json:"device_id"`
	Alert        string    `json:"alert"`
	BatteryLevel float64   `json:"battery_level"`
	Threshold    float64   `json:"threshold"`
	At           time.Time `json:"at"`
}

func outcomeOf(p PendingSnapshot) CommandOutcome {
	return CommandOutcome{
		CommandID:   p.CommandID,
		DeviceID:    p.DeviceID,
		CommandType: p.Type,
		State:       p.State,
		Transport:   p.Transport,
		IssuedBy:    p.IssuedBy,
		At:          p.LastUpdate,
	}
}
