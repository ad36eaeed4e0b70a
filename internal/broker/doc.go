// Package broker is the publish/subscribe device channel.
//
// Locks that cannot hold a WebSocket open talk to the gateway through a
// message broker (MQTT or NATS) on per-device topics:
//
//	{prefix}/device/{id}/command    gateway → lock
//	{prefix}/device/{id}/ack        lock → gateway
//	{prefix}/device/{id}/heartbeat  lock → gateway
//	{prefix}/device/{id}/status     lock → gateway (retained, LWT)
//
// The broker does not tell the gateway when a lock disappears except via
// the lock's last-will status message, so broker reachability is a lease:
// every heartbeat, ack or "online" status renews it, and the dispatch
// manager expires it after a quiet period.
package broker
