package device

import "errors"

var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	// ErrInvalidDevice and ErrInvalidName are wrapped with the failing field.
	ErrInvalidDevice = errors.New("device: invalid")
	ErrInvalidName   = errors.New("device: invalid name")

	// ErrInvalidCredentials covers both an unknown ID and a wrong token.
	ErrInvalidCredentials = errors.New("device: invalid credentials")
)
