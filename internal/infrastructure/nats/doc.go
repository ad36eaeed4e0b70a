// Package nats provides NATS connectivity for the door-lock gateway.
//
// It is the alternative broker channel to MQTT (broker.kind: nats). The
// gateway keeps a single topic hierarchy; SubjectFromTopic maps MQTT-style
// topics and wildcards onto NATS subjects:
//
//	doorlock/device/+/ack  ->  doorlock.device.*.ack
//	doorlock/#             ->  doorlock.>
//
// Device IDs must not contain '.', which NATS treats as a token separator.
package nats
