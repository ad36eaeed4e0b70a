package session

import "encoding/json"

// Frame event names.
const (
	EventHeartbeat  = "heartbeat"
	EventCommandAck = "command_ack"
	EventPing       = "ping"
	EventPong       = "pong"
	EventError      = "error"
)

// Frame is the envelope for every message on a device socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeFrame builds an outbound frame.
func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
