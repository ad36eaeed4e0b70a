// Package dispatch tracks door-lock transport connections and routes
// operator commands to devices with acknowledgment correlation.
//
// A Manager owns two independent in-memory tables:
//
//   - the connection registry: which transports (session, broker) are live
//     for each device. A record exists only while at least one handle is
//     live; the device is online iff a record exists.
//   - the pending-command table: commands that were sent and have not yet
//     reached a terminal state (executed, failed, timed_out).
//
// Each table has its own mutex, held only for the in-memory mutation. Calls
// to the device directory, audit sink, notifier and telemetry happen after
// the lock is released, using a copied snapshot. Failures in those calls
// are logged and swallowed.
//
// Transport adapters push typed events into OnTransportConnect,
// OnTransportDisconnect, OnHeartbeat and OnAck. Operators call Dispatch,
// which returns as soon as the command is handed to a transport; the outcome
// arrives later through the notifier and the audit log.
//
// Usage:
//
//	m := dispatch.New(directory, auditSink, hub, dispatch.Options{
//	    CommandTimeout: 30 * time.Second,
//	})
//	m.SetLogger(logger)
//	go m.Run(ctx)
//	defer m.Close()
//
//	res, err := m.Dispatch(ctx, dispatch.DispatchRequest{
//	    DeviceID: "lock-front",
//	    Type:     dispatch.CommandUnlockDoor,
//	    IssuedBy: "user-42",
//	})
package dispatch
