package nats

import "errors"

// Domain-specific errors for NATS operations.
var (
	ErrNotConnected     = errors.New("nats: client not connected")
	ErrConnectionFailed = errors.New("nats: connection failed")
	ErrPublishFailed    = errors.New("nats: publish failed")
	ErrSubscribeFailed  = errors.New("nats: subscribe failed")
	ErrInvalidSubject   = errors.New("nats: subject cannot be empty")
)
