package dispatch

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCommandMessage_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	msg := CommandMessage{
		CommandID:   "cmd-1",
		CommandType: CommandUnlockDoor,
		Timestamp:   ts,
		Payload:     map[string]any{"durationSec": 5.0},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got CommandMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.CommandID != "cmd-1" || got.CommandType != CommandUnlockDoor || !got.Timestamp.Equal(ts) {
		t.Errorf("envelope = %+v", got)
	}
	if got.Payload["durationSec"] != 5.0 || len(got.Payload) != 1 {
		t.Errorf("Payload = %v", got.Payload)
	}
}

func TestCommandMessage_UnmarshalMissingFields(t *testing.T) {
	var m CommandMessage
	if err := json.Unmarshal([]byte(`{"commandType":"restart"}`), &m); err == nil {
		t.Error("Unmarshal() accepted a message without commandId")
	}
}

func TestAckMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"executed", `{"commandId":"c","status":"executed"}`, false},
		{"failed with message", `{"commandId":"c","status":"failed","errorMessage":"jam"}`, false},
		{"received", `{"commandId":"c","status":"received"}`, false},
		{"missing id", `{"status":"executed"}`, true},
		{"unknown status", `{"commandId":"c","status":"done"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ack AckMessage
			if err := json.Unmarshal([]byte(tt.raw), &ack); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if err := ack.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandType_Valid(t *testing.T) {
	for _, ct := range CommandTypes {
		if !ct.Valid() {
			t.Errorf("%s.Valid() = false", ct)
		}
	}
	if CommandType("open_sesame").Valid() {
		t.Error("unknown type reported valid")
	}
}
