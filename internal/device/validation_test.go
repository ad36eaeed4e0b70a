package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"lock-1", false},
		{"ESP32_A1:B2", false},
		{"front.door", false},
		{"", true},
		{"-leading", true},
		{"has space", true},
		{"slash/inside", true},
		{"wild+card", true},
		{strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("error %v does not wrap ErrInvalidDevice", err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("Front door"); err != nil {
		t.Errorf("ValidateName() error = %v", err)
	}
	if err := ValidateName(strings.Repeat("x", 101)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("ValidateName(long) error = %v", err)
	}
	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v", err)
	}
}

func TestPatchFromMetrics(t *testing.T) {
	tests := []struct {
		name        string
		metrics     map[string]any
		wantBattery *int
		wantSignal  *int
	}{
		{"nil", nil, nil, nil},
		{"floats rounded", map[string]any{"battery_level": 42.5, "signal_strength": -70.2}, intPtr(43), intPtr(-70)},
		{"ints", map[string]any{"battery_level": 9}, intPtr(9), nil},
		{"strings ignored", map[string]any{"battery_level": "high"}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PatchFromMetrics(tt.metrics)
			if !equalIntPtr(p.BatteryLevel, tt.wantBattery) {
				t.Errorf("BatteryLevel = %v, want %v", p.BatteryLevel, tt.wantBattery)
			}
			if !equalIntPtr(p.SignalStrength, tt.wantSignal) {
				t.Errorf("SignalStrength = %v, want %v", p.SignalStrength, tt.wantSignal)
			}
		})
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	b, _ := GenerateToken() //nolint:errcheck // checked above
	if a == b {
		t.Error("two generated tokens are equal")
	}
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
