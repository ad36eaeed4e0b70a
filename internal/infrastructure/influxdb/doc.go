// Package influxdb provides InfluxDB connectivity for the door-lock gateway.
//
// It wraps the official influxdb-client-go v2 library and records:
//   - Heartbeat telemetry (battery level, signal strength)
//   - Command outcomes with dispatch-to-terminal latency
//
// Telemetry is optional. When influxdb.enabled is false Connect returns
// ErrDisabled and the gateway runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteHeartbeat("lock-front", "broker",
//	    map[string]float64{"battery_level": 64}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
