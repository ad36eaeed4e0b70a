package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "doorlock"

// Device topic kinds, the last segment of a per-device topic.
const (
	KindCommand   = "command"
	KindAck       = "ack"
	KindHeartbeat = "heartbeat"
	KindStatus    = "status"
)

// Topics builds the door-lock topic hierarchy under a configurable prefix:
//
//	{prefix}/device/{deviceID}/command    gateway -> device
//	{prefix}/device/{deviceID}/ack        device -> gateway
//	{prefix}/device/{deviceID}/heartbeat  device -> gateway
//	{prefix}/device/{deviceID}/status     device -> gateway (retained, LWT)
//	{prefix}/gateway/status               gateway LWT
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) device(deviceID, kind string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.prefix(), deviceID, kind)
}

// DeviceCommand returns the topic a device listens on for commands.
//
// Example: doorlock/device/lock-front/command
func (t Topics) DeviceCommand(deviceID string) string {
	return t.device(deviceID, KindCommand)
}

// DeviceAck returns the topic a device publishes command acks on.
func (t Topics) DeviceAck(deviceID string) string {
	return t.device(deviceID, KindAck)
}

// DeviceHeartbeat returns the topic a device publishes heartbeats on.
func (t Topics) DeviceHeartbeat(deviceID string) string {
	return t.device(deviceID, KindHeartbeat)
}

// DeviceStatus returns the retained online/offline topic of a device.
func (t Topics) DeviceStatus(deviceID string) string {
	return t.device(deviceID, KindStatus)
}

// GatewayStatus returns the gateway's own status topic.
//
// Example: doorlock/gateway/status
func (t Topics) GatewayStatus() string {
	return t.prefix() + "/gateway/status"
}

// AllDeviceAcks matches acks from every device.
//
// Pattern: doorlock/device/+/ack
func (t Topics) AllDeviceAcks() string {
	return t.device("+", KindAck)
}

// AllDeviceHeartbeats matches heartbeats from every device.
func (t Topics) AllDeviceHeartbeats() string {
	return t.device("+", KindHeartbeat)
}

// AllDeviceStatus matches status announcements from every device.
func (t Topics) AllDeviceStatus() string {
	return t.device("+", KindStatus)
}

// ParseDeviceTopic extracts the device ID and kind from a per-device topic.
// It returns ok=false for topics outside the device hierarchy.
func (t Topics) ParseDeviceTopic(topic string) (deviceID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/device/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" { //nolint:mnd // id/kind
		return "", "", false
	}
	switch parts[1] {
	case KindCommand, KindAck, KindHeartbeat, KindStatus:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
