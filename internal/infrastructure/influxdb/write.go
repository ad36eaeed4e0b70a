package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementHeartbeat = "lock_heartbeat"
	MeasurementCommand   = "lock_command"
)

// WriteHeartbeat records the numeric fields of a lock heartbeat
// (battery_level, signal_strength, ...). An empty field set writes nothing.
func (c *Client) WriteHeartbeat(deviceID, transport string, fields map[string]float64, ts time.Time) {
	if len(fields) == 0 {
		return
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	c.write(write.NewPoint(MeasurementHeartbeat,
		map[string]string{"device_id": deviceID, "transport": transport},
		values, ts))
}

// WriteCommandOutcome records a command's terminal state and its latency
// from dispatch to that state.
func (c *Client) WriteCommandOutcome(deviceID, commandType, state string, latency time.Duration) {
	c.write(write.NewPoint(MeasurementCommand,
		map[string]string{"device_id": deviceID, "command_type": commandType, "state": state},
		map[string]any{"latency_ms": latency.Milliseconds()},
		time.Now()))
}

func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.writeAPI == nil || c.closed {
		return
	}
	c.writeAPI.WritePoint(p)
}
