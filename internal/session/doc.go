// Package session is the device-facing WebSocket channel.
//
// A lock opens a WebSocket to the gateway, authenticating with its device
// ID and connection token. While the socket is open the lock is reachable
// through a dispatch.SessionHandle and every frame it sends is fed to the
// dispatch manager.
//
// Frames are JSON envelopes {"event": name, "data": payload}:
//
//	lock → gateway   heartbeat     {battery_level, signal_strength, ...}
//	lock → gateway   command_ack   {commandId, status, errorMessage}
//	lock → gateway   ping          (no data; answered with pong)
//	gateway → lock   command       {commandId, commandType, timestamp, ...}
//	gateway → lock   error         {message}
//
// A second socket for the same lock replaces the first. The server closes
// the replaced socket with reason "replaced" and the manager ignores its
// disconnect.
package session
