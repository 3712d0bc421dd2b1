package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/switchboard-core/internal/process"
)

// Worker is a running bridge subprocess as seen by the supervisor.
// *process.Process satisfies it.
type Worker interface {
	// Events returns the ordered output feed; it closes after termination.
	Events() <-chan process.Event

	// Write sends raw bytes to the worker's stdin.
	Write(b []byte) (int, error)

	// Stop terminates the worker gracefully.
	Stop() error

	// Close stops event delivery and releases stdin.
	Close() error

	// PID returns the OS process ID.
	PID() int

	// Stats returns the worker's current PID, uptime and exit state.
	Stats() process.Stats
}

// Launcher spawns workers for named services.
type Launcher interface {
	Launch(ctx context.Context, service string) (Worker, error)
}

// processLauncher adapts *process.Launcher to the Launcher interface.
type processLauncher struct {
	l *process.Launcher
}

// NewProcessLauncher wraps a process.Launcher so it can be handed to a Manager.
func NewProcessLauncher(l *process.Launcher) Launcher {
	return processLauncher{l: l}
}

// Launch implements Launcher.
func (p processLauncher) Launch(ctx context.Context, service string) (Worker, error) {
	proc, err := p.l.Launch(ctx, service)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Handle is the registry entry for one live worker.
//
// The Handle exclusively owns its Worker: it is the only path that writes to
// the worker's stdin, and it releases stdin when it is closed. The status
// field is guarded by the owning Registry's lock.
type Handle struct {
	service   string
	worker    Worker
	startedAt time.Time

	// status is read and written only under Registry.mu.
	status Status

	writeMu sync.Mutex
	closed  bool
}

// NewHandle creates a handle for a freshly spawned worker in the Connected state.
func NewHandle(service string, worker Worker) *Handle {
	return &Handle{
		service:   service,
		worker:    worker,
		startedAt: time.Now(),
		status:    StatusConnected,
	}
}

// StartedAt returns when the worker was spawned.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// write sends one payload to the worker. It fails with ErrNotRunning once
// the handle has been closed.
func (h *Handle) write(payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.closed {
		return notRunning(h.service)
	}
	if _, err := h.worker.Write(payload); err != nil {
		return fmt.Errorf("%w: bridge %q: %w", ErrWriteFailed, h.service, err)
	}
	return nil
}

// close marks the handle dead and releases the worker's stdin.
// Writes in flight complete before close returns.
func (h *Handle) close() {
	h.writeMu.Lock()
	if h.closed {
		h.writeMu.Unlock()
		return
	}
	h.closed = true
	h.writeMu.Unlock()

	_ = h.worker.Close() //nolint:errcheck // stdin of an exited worker; nothing to recover
}
