// Package mqtt is the gateway's paho client for the broker channel.
//
// Locks that cannot keep a WebSocket open (battery units that wake
// periodically) reach the gateway through the broker. Each lock publishes
// status, heartbeats and acks under its own device topic and subscribes to
// its command topic; Topics builds and parses that hierarchy.
//
//	gateway <-> broker <-> locks
//
// The client reconnects on its own and replays subscriptions afterwards.
// Its will marks the gateway offline on {prefix}/gateway/status; Close
// publishes a distinct graceful offline status there.
//
// Per-device topic ACLs are the broker's job. Enable TLS outside local
// development.
//
//	topics := mqtt.Topics{Prefix: cfg.Broker.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
