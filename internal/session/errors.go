package session

import "errors"

var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrSendBufferFull is returned when a lock is not draining its socket.
	ErrSendBufferFull = errors.New("session: send buffer full")

	// ErrUnauthorized is returned when the handshake credentials are rejected.
	ErrUnauthorized = errors.New("session: unauthorized")
)
