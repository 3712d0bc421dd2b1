package process

import "errors"

// Domain-specific errors for worker launches.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBinaryNotFound is returned when no executable matches the
	// <prefix>-<service> naming convention.
	ErrBinaryNotFound = errors.New("process: worker binary not found")

	// ErrSpawnFailed is returned when the OS refuses to start the binary.
	ErrSpawnFailed = errors.New("process: spawn failed")
)
