package dispatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandMessage is sent from the gateway to a lock. On the wire the payload
// fields sit next to the envelope fields:
//
//	{"commandId":"...","commandType":"unlock_door","timestamp":"...","durationSec":5}
//
// Payload keys cannot override commandId, commandType or timestamp.
type CommandMessage struct {
	CommandID   string
	CommandType CommandType
	Timestamp   time.Time
	Payload     map[string]any
}

// MarshalJSON flattens the payload into the envelope.
func (m CommandMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+3) //nolint:mnd // envelope fields
	for k, v := range m.Payload {
		out[k] = v
	}
	out["commandId"] = m.CommandID
	out["commandType"] = string(m.CommandType)
	out["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON splits the envelope fields back out of the flat object.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, _ := raw["commandId"].(string)
	typ, _ := raw["commandType"].(string)
	ts, _ := raw["timestamp"].(string)
	if id == "" || typ == "" {
		return fmt.Errorf("command message missing commandId or commandType")
	}
	delete(raw, "commandId")
	delete(raw, "commandType")
	delete(raw, "timestamp")

	m.CommandID = id
	m.CommandType = CommandType(typ)
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts) //nolint:errcheck // zero time if absent
	m.Payload = raw
	if len(raw) == 0 {
		m.Payload = nil
	}
	return nil
}

// AckMessage is the acknowledgment a lock sends for a command.
type AckMessage struct {
	CommandID    string    `json:"commandId"`
	Status       AckStatus `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Validate checks the required fields and the status value.
func (a AckMessage) Validate() error {
	if a.CommandID == "" {
		return fmt.Errorf("ack missing commandId")
	}
	if _, ok := a.Status.state(); !ok {
		return fmt.Errorf("ack has unknown status %q", a.Status)
	}
	return nil
}

// Event converts the wire message into an AckEvent.
func (a AckMessage) Event(deviceID string) AckEvent {
	return AckEvent{
		CommandID:    a.CommandID,
		DeviceID:     deviceID,
		Status:       a.Status,
		ErrorMessage: a.ErrorMessage,
	}
}
