package bridge

import (
	"errors"
	"fmt"
)

// Domain-specific errors for bridge operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotRunning is returned when a command targets a service with no
	// live worker.
	ErrNotRunning = errors.New("bridge: not running")

	// ErrWriteFailed is returned when writing to a live worker's stdin fails.
	ErrWriteFailed = errors.New("bridge: write failed")

	// ErrInvalidService is returned for service names that cannot be mapped
	// to a worker binary.
	ErrInvalidService = errors.New("bridge: invalid service name")

	// ErrShuttingDown is returned by Start after Shutdown has begun.
	ErrShuttingDown = errors.New("bridge: manager shutting down")

	// ErrServiceNotFound is returned when a service has no stored record.
	ErrServiceNotFound = errors.New("bridge: service not found")

	// ErrNoStore is returned by operations that need persistence when the
	// Manager was built without a ServiceStore.
	ErrNoStore = errors.New("bridge: no service store configured")
)

// notRunning builds the caller-facing error for a service with no live worker.
func notRunning(service string) error {
	return fmt.Errorf("%w: no bridge running for service %q", ErrNotRunning, service)
}
