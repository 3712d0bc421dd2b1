package bridge

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry maps service names to their live worker handle.
//
// At most one Handle exists per service. A missing entry means the service
// is disconnected. Every method holds the lock for a single lookup, insert or
// removal and never while doing I/O.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Insert installs h for its service, replacing any stale entry.
// A replaced handle is closed after the lock is released.
func (r *Registry) Insert(h *Handle) {
	r.mu.Lock()
	stale := r.handles[h.service]
	r.handles[h.service] = h
	r.mu.Unlock()

	if stale != nil && stale != h {
		stale.close()
	}
}

// Remove deletes the entry for h's service if it still holds h, then closes h.
// It reports whether the entry was removed.
func (r *Registry) Remove(h *Handle) bool {
	r.mu.Lock()
	current, ok := r.handles[h.service]
	removed := ok && current == h
	if removed {
		delete(r.handles, h.service)
	}
	r.mu.Unlock()

	h.close()
	return removed
}

// SetStatus updates the status of h if it is still the live entry.
// It is a no-op when the entry has already been removed or replaced.
func (r *Registry) SetStatus(h *Handle, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[h.service]
	if !ok || current != h {
		return false
	}
	current.status = status
	return true
}

// Status returns the status for service, or StatusDisconnected if absent.
func (r *Registry) Status(service string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[service]; ok {
		return h.status
	}
	return StatusDisconnected
}

// lookup returns the live handle for service.
func (r *Registry) lookup(service string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[service]
	return h, ok
}

// Send writes message to the live worker for service.
//
// It performs:
//  1. Looks up the handle under the registry lock
//  2. Appends a trailing newline if missing
//  3. Writes the line to the worker's stdin outside the lock
//
// Parameters:
//   - service: Service name whose worker receives the line
//   - message: One command line, with or without its newline
//
// Returns:
//   - error: ErrNotRunning if no worker is live (or it is removed
//     concurrently), ErrWriteFailed if the write itself fails
func (r *Registry) Send(service, message string) error {
	h, ok := r.lookup(service)
	if !ok {
		return notRunning(service)
	}
	return h.write(frameMessage(message))
}

// frameMessage appends the line terminator unless already present.
func frameMessage(message string) []byte {
	if strings.HasSuffix(message, "\n") {
		return []byte(message)
	}
	return []byte(message + "\n")
}

// HandleInfo is a point-in-time view of one registry entry.
type HandleInfo struct {
	Service   string
	Status    Status
	PID       int
	StartedAt time.Time

	// Uptime is zero once the worker has exited, even if the supervisor
	// has not removed the entry yet.
	Uptime time.Duration
}

// Snapshot returns all live entries sorted by service name.
func (r *Registry) Snapshot() []HandleInfo {
	r.mu.Lock()
	out := make([]HandleInfo, 0, len(r.handles))
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, HandleInfo{
			Service:   h.service,
			Status:    h.status,
			StartedAt: h.startedAt,
		})
		handles = append(handles, h)
	}
	r.mu.Unlock()

	// Worker stats are read outside the registry lock.
	for i, h := range handles {
		stats := h.worker.Stats()
		out[i].PID = stats.PID
		out[i].Uptime = stats.Uptime
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
