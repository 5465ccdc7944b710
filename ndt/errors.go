package ndt

import "errors"

var (
	// ErrNotInitialized is returned when Calculate is called before Initialize.
	ErrNotInitialized = errors.New("scanmatcher not initialized")

	// ErrInsufficientInput is returned when a scan cannot populate any valid cell.
	ErrInsufficientInput = errors.New("insufficient points in scan")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOutOfRange is returned for point or layer lookups past the end.
	ErrOutOfRange = errors.New("index out of range")
)
