// Package audit stores and queries the gateway's audit trail.
//
// Every connection transition and every command outcome is appended to the
// audit_logs table by the dispatch manager through Sink. The HTTP API reads
// the trail back through Repository.List with device, command, action and
// time-range filters.
//
// Writes are append-only; nothing in the gateway updates or deletes rows.
package audit
