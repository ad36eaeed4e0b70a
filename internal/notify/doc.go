// Package notify pushes dispatch events to dashboard WebSocket clients.
//
// Hub implements dispatch.Notifier. Every client belongs to rooms:
//
//	owner:{userID}   joined automatically; receives NotifyOwner events
//	device:{id}      joined on request; receives NotifyDeviceRoom events
//	staff            joined automatically by operators and admins;
//	                 receives every event
//
// A client that is in several matching rooms receives each event once.
// Delivery is best-effort: a client whose send buffer is full misses the
// event rather than stalling the dispatcher.
package notify
