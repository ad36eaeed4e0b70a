package device

import (
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// Device is a door lock known to the gateway.
type Device struct {
	// ID is the identifier the lock presents when it connects.
	ID string `json:"id"`

	// Name is a human-readable label ("Front door").
	Name string `json:"name"`

	// OwnerID is the user who receives this lock's notifications.
	// Empty means unowned.
	OwnerID string `json:"owner_id,omitempty"`

	// TokenHash is the Argon2id hash of the lock's connection token.
	TokenHash string `json:"-"`

	// Status mirrors the dispatch manager's view at the last transition.
	Status dispatch.Status `json:"status"`

	// BatteryLevel and SignalStrength are the last reported readings.
	BatteryLevel   *int `json:"battery_level,omitempty"`
	SignalStrength *int `json:"signal_strength,omitempty"`

	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StatusPatch carries the optional telemetry fields written alongside a
// status update. Nil fields are left unchanged.
type StatusPatch struct {
	BatteryLevel   *int
	SignalStrength *int
}

// Empty reports whether the patch changes nothing.
func (p StatusPatch) Empty() bool {
	return p.BatteryLevel == nil && p.SignalStrength == nil
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.BatteryLevel != nil {
		v := *d.BatteryLevel
		cp.BatteryLevel = &v
	}
	if d.SignalStrength != nil {
		v := *d.SignalStrength
		cp.SignalStrength = &v
	}
	if d.LastSeen != nil {
		v := *d.LastSeen
		cp.LastSeen = &v
	}
	return &cp
}
