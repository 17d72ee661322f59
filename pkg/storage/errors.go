package storage

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidConfig is returned when the storage configuration is invalid
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrConnectionFailed is returned when the database cannot be opened
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrClosed is returned when an operation is attempted on a closed store
	ErrClosed = errors.New("storage: closed")
)
