package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/switchboard-core/internal/process"
)

// serviceNamePattern restricts service names to values that map safely onto
// a binary name, an event channel and an MQTT topic segment.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// storeTimeout bounds persistence calls made on behalf of Start.
const storeTimeout = 5 * time.Second

// ValidateService reports whether service is an acceptable service name.
func ValidateService(service string) error {
	if !serviceNamePattern.MatchString(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	return nil
}

// ServiceStore persists the set of services that have been started so they
// can be restored after a restart.
type ServiceStore interface {
	// MarkStarted records that service was started and should autostart.
	MarkStarted(ctx context.Context, service string) error

	// AutostartServices returns every service flagged for autostart.
	AutostartServices(ctx context.Context) ([]string, error)

	// SetAutostart changes the autostart flag of a known service.
	// Returns ErrServiceNotFound if the service was never started.
	SetAutostart(ctx context.Context, service string, enabled bool) error

	// Get returns the stored record for service, or ErrServiceNotFound.
	Get(ctx context.Context, service string) (*ServiceRecord, error)
}

// Options configures a Manager. Launcher is required.
type Options struct {
	Launcher Launcher

	// Registry defaults to a fresh NewRegistry().
	Registry *Registry

	// Sink receives worker events. Defaults to discarding them.
	Sink EventSink

	// Observer receives lifecycle notifications. Optional.
	Observer Observer

	// Backoff defaults to FixedBackoff(DefaultRestartDelay).
	Backoff Backoff

	// Store persists started services. Optional.
	Store ServiceStore

	Logger Logger
}

// Manager is the command gateway: it starts supervisors, routes commands to
// live workers and answers status queries.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Manager struct {
	registry *Registry
	launcher Launcher
	sink     EventSink
	observer Observer
	backoff  Backoff
	store    ServiceStore
	logger   Logger

	// ctx is the root of every supervisor; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	supervisors map[string]*supervisor
	closing     bool
}

// NewManager creates a Manager with defaults applied.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Sink == nil {
		opts.Sink = EventSinkFunc(func(string, json.RawMessage) {})
	}
	if opts.Observer == nil {
		opts.Observer = Observers(nil)
	}
	if opts.Backoff == nil {
		opts.Backoff = FixedBackoff(DefaultRestartDelay)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:    opts.Registry,
		launcher:    opts.Launcher,
		sink:        opts.Sink,
		observer:    opts.Observer,
		backoff:     opts.Backoff,
		store:       opts.Store,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		supervisors: make(map[string]*supervisor),
	}
}

// Start begins supervising service. It does not wait for the worker to
// become ready.
//
// It performs:
//  1. Validates the service name
//  2. Returns early if the service is already connected
//  3. Creates a supervisor under the manager lock unless one is running
//  4. Records the service for autostart in the store, if configured
//
// Repeated or concurrent calls never produce a second worker. Launch
// failures are not returned; the supervisor logs them and retries.
//
// Parameters:
//   - ctx: Bounds the store write only; the supervisor outlives it
//   - service: Service name, see ValidateService
//
// Returns:
//   - error: ErrInvalidService or ErrShuttingDown; store failures are logged
func (m *Manager) Start(ctx context.Context, service string) error {
	if err := ValidateService(service); err != nil {
		return err
	}

	if m.registry.Status(service) == StatusConnected {
		return nil
	}

	started, err := m.launch(service)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	if m.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := m.store.MarkStarted(storeCtx, service); err != nil {
			m.logger.Warn("failed to persist started bridge", "bridge", service, "error", err)
		}
	}
	return nil
}

// launch creates and runs a supervisor for service unless one is running.
func (m *Manager) launch(service string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return false, ErrShuttingDown
	}
	if existing, ok := m.supervisors[service]; ok {
		select {
		case <-existing.done:
		default:
			return false, nil
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	sup := &supervisor{
		service:  service,
		launcher: m.launcher,
		registry: m.registry,
		sink:     m.sink,
		observer: m.observer,
		backoff:  m.backoff,
		logger:   m.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
		lastExit: process.UnknownExitCode,
	}
	m.supervisors[service] = sup

	m.logger.Info("starting bridge supervisor", "bridge", service)
	go sup.run(ctx)
	return true, nil
}

// Send writes message to the live worker for service, appending a newline
// if missing. It returns ErrNotRunning when no worker is live and
// ErrWriteFailed when the write itself fails.
func (m *Manager) Send(service, message string) error {
	return m.registry.Send(service, message)
}

// Status returns the canonical status of service, "disconnected" if unknown.
func (m *Manager) Status(service string) string {
	return m.registry.Status(service).String()
}

// ServiceInfo describes one supervised service.
type ServiceInfo struct {
	Service      string        `json:"service"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	Uptime       time.Duration `json:"uptime_ns,omitempty"`
	Spawns       int           `json:"spawns"`
	Restarts     int           `json:"restarts"`
	LastExitCode int           `json:"last_exit_code"`
	LastError    string        `json:"last_error,omitempty"`

	// Autostart and LastExitedAt come from the store and are omitted when
	// the manager has none or the service has no record yet.
	Autostart    *bool      `json:"autostart,omitempty"`
	LastExitedAt *time.Time `json:"last_exited_at,omitempty"`
}

// List returns every service that has a supervisor, sorted by name.
// Persisted details are added when a store is configured; a failed lookup
// is logged and leaves them out.
func (m *Manager) List(ctx context.Context) []ServiceInfo {
	live := make(map[string]HandleInfo)
	for _, h := range m.registry.Snapshot() {
		live[h.Service] = h
	}

	m.mu.Lock()
	sups := make([]*supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		sups = append(sups, s)
	}
	m.mu.Unlock()

	out := make([]ServiceInfo, 0, len(sups))
	for _, s := range sups {
		st := s.stats()
		info := ServiceInfo{
			Service:      s.service,
			Status:       StatusDisconnected,
			Spawns:       st.Spawns,
			LastExitCode: st.LastExitCode,
		}
		if st.Spawns > 1 {
			info.Restarts = st.Spawns - 1
		}
		if st.LastError != nil {
			info.LastError = st.LastError.Error()
		}
		if h, ok := live[s.service]; ok {
			started := h.StartedAt
			info.Status = h.Status
			info.PID = h.PID
			info.StartedAt = &started
			info.Uptime = h.Uptime
		}
		m.addStoredDetails(ctx, &info, st.Exits > 0)
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// addStoredDetails fills the persisted fields of info. The stored exit code
// is only used while this supervisor has not seen an exit of its own.
func (m *Manager) addStoredDetails(ctx context.Context, info *ServiceInfo, sawExit bool) {
	if m.store == nil {
		return
	}
	rec, err := m.store.Get(ctx, info.Service)
	if err != nil {
		if !errors.Is(err, ErrServiceNotFound) {
			m.logger.Warn("failed to load bridge record", "bridge", info.Service, "error", err)
		}
		return
	}

	autostart := rec.Autostart
	info.Autostart = &autostart
	info.LastExitedAt = rec.LastExitedAt
	if !sawExit && rec.LastExitCode != nil {
		info.LastExitCode = *rec.LastExitCode
	}
}

// SetAutostart changes whether service is started when the core boots.
//
// Returns ErrInvalidService, ErrNoStore when no store is configured, or
// ErrServiceNotFound when the service has never been started.
func (m *Manager) SetAutostart(ctx context.Context, service string, enabled bool) error {
	if err := ValidateService(service); err != nil {
		return err
	}
	if m.store == nil {
		return ErrNoStore
	}
	if err := m.store.SetAutostart(ctx, service, enabled); err != nil {
		return fmt.Errorf("bridge %q: %w", service, err)
	}
	m.logger.Info("bridge autostart changed", "bridge", service, "enabled", enabled)
	return nil
}

// RestoreAutostart starts every service in extra plus those the store has
// flagged for autostart. Invalid names are logged and skipped.
func (m *Manager) RestoreAutostart(ctx context.Context, extra []string) error {
	services := append([]string(nil), extra...)
	if m.store != nil {
		stored, err := m.store.AutostartServices(ctx)
		if err != nil {
			return fmt.Errorf("loading autostart services: %w", err)
		}
		services = append(services, stored...)
	}

	seen := make(map[string]bool, len(services))
	for _, service := range services {
		if seen[service] {
			continue
		}
		seen[service] = true

		if err := m.Start(ctx, service); err != nil {
			m.logger.Warn("skipping autostart bridge", "bridge", service, "error", err)
		}
	}
	return nil
}

// Running returns the number of services with an active supervisor.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.supervisors {
		select {
		case <-s.done:
		default:
			n++
		}
	}
	return n
}

// Shutdown stops every supervisor and waits for all of them to return.
//
// It performs:
//  1. Marks the manager closing so Start fails with ErrShuttingDown
//  2. Cancels every supervisor; running workers get SIGTERM, then SIGKILL
//     after their graceful timeout, and those in backoff return at once
//  3. Waits for each supervisor to finish its teardown
//
// Every worker that was running emits its disconnected event before its
// supervisor returns.
//
// Parameters:
//   - ctx: Bounds the wait; it should outlast the workers' graceful timeout
//
// Returns:
//   - error: Wrapped ctx.Err() naming the first service still stopping
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	sups := make([]*supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		sups = append(sups, s)
	}
	m.mu.Unlock()

	m.logger.Info("stopping bridge supervisors", "count", len(sups))
	for _, s := range sups {
		s.cancel()
	}
	m.cancel()

	for _, s := range sups {
		select {
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for bridge %q to stop: %w", s.service, ctx.Err())
		}
	}

	m.logger.Info("all bridge supervisors stopped")
	return nil
}
