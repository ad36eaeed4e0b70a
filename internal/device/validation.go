package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxIDLength   = 64
	idPattern     = `^[A-Za-z0-9][A-Za-z0-9._:-]*$`

	// tokenBytes is the entropy of a generated connection token.
	tokenBytes = 32
)

var idRegex = regexp.MustCompile(idPattern)

// ValidateDevice checks the fields a caller may set on a new device.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	return ValidateName(d.Name)
}

// ValidateID checks that a device ID is safe to embed in topics and URLs.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: id may contain only letters, digits, '.', '_', ':' and '-'", ErrInvalidDevice)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateToken creates a random 256-bit connection token, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating device token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PatchFromMetrics extracts the persisted telemetry fields from a heartbeat
// metrics map. Readings are rounded to whole numbers; non-numeric values
// are ignored.
func PatchFromMetrics(metrics map[string]any) StatusPatch {
	var p StatusPatch
	if v, ok := wholeNumber(metrics["battery_level"]); ok {
		p.BatteryLevel = &v
	}
	if v, ok := wholeNumber(metrics["signal_strength"]); ok {
		p.SignalStrength = &v
	}
	return p
}

func wholeNumber(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Round(n)), true
	case float32:
		return wholeNumber(float64(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
