package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/switchboard-core/internal/process"
)

const testRestartDelay = 10 * time.Millisecond

const disconnectedPayload = `{"status":"disconnected"}`

// newTestManager builds a Manager with a short restart delay and registers
// a cleanup that shuts it down.
func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Backoff == nil {
		opts.Backoff = FixedBackoff(testRestartDelay)
	}
	m := NewManager(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return m
}

func TestManagerLifecycle(t *testing.T) {
	launcher := newFakeLauncher()
	sink := &recordingSink{}
	m := newTestManager(t, Options{Launcher: launcher, Sink: sink})
	ctx := context.Background()

	if err := m.Start(ctx, "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w1 := launcher.next(t)
	waitFor(t, "first worker registered", func() bool { return m.Status("telegram") == "connected" })

	w1.stdout(`{"type":"auth.qr","data":{"code":"xyz"}}`)
	waitFor(t, "auth_needed", func() bool { return m.Status("telegram") == "auth_needed" })

	w1.stdout(`{"type":"auth.success"}`)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	w1.exit(0)
	waitFor(t, "disconnect event", func() bool { return sink.count(disconnectedPayload) == 1 })

	w2 := launcher.next(t)
	if w2 == w1 {
		t.Fatal("expected a fresh worker after restart")
	}
	waitFor(t, "second worker registered", func() bool { return m.Status("telegram") == "connected" })

	if !w1.isClosed() {
		t.Error("exited worker should have been closed")
	}
	if w1.isStopped() {
		t.Error("exited worker should not be signalled")
	}

	events := sink.all()
	want := []string{
		`{"type":"auth.qr","data":{"code":"xyz"}}`,
		`{"type":"auth.success"}`,
		disconnectedPayload,
	}
	if len(events) != len(want) {
		t.Fatalf("emitted %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, e := range events {
		if e.service != "telegram" {
			t.Errorf("event[%d] service = %q, want telegram", i, e.service)
		}
		if e.payload != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, e.payload, want[i])
		}
	}

	list := m.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	if list[0].Restarts != 1 || list[0].Spawns != 2 || list[0].LastExitCode != 0 {
		t.Errorf("List()[0] = %+v, want 2 spawns, 1 restart, exit code 0", list[0])
	}
	if list[0].PID != w2.PID() {
		t.Errorf("List()[0].PID = %d, want %d", list[0].PID, w2.PID())
	}
}

func TestManagerStatusUpdatedBeforeEmit(t *testing.T) {
	launcher := newFakeLauncher()

	var (
		mu       sync.Mutex
		observed []string
		m        *Manager
	)
	sink := EventSinkFunc(func(service string, payload json.RawMessage) {
		if string(payload) == disconnectedPayload {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, m.Status(service))
	})

	m = newTestManager(t, Options{Launcher: launcher, Sink: sink})
	if err := m.Start(context.Background(), "signal"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w := launcher.next(t)

	w.stdout(`{"type":"auth.phone_needed"}`)
	w.stdout(`{"type":"status","data":{"status":"connected"}}`)
	w.stdout(`{"type":"message","data":{"text":"hi"}}`)

	waitFor(t, "three events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"auth_needed", "connected", "connected"}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("status at emit %d = %q, want %q", i, observed[i], want[i])
		}
	}
}

func TestManagerStartIsIdempotent(t *testing.T) {
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher})
	ctx := context.Background()

	// Back-to-back calls before the worker registers.
	for i := 0; i < 5; i++ {
		if err := m.Start(ctx, "telegram"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	// And again while connected.
	if err := m.Start(ctx, "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx, "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(5 * testRestartDelay)
	if got := launcher.callCount(); got != 1 {
		t.Errorf("launches = %d, want 1", got)
	}
	if got := m.Running(); got != 1 {
		t.Errorf("Running() = %d, want 1", got)
	}
}

func TestManagerStartConcurrent(t *testing.T) {
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher})

	const callers = 32
	var wg sync.WaitGroup
	ready := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			errs <- m.Start(context.Background(), "telegram")
		}()
	}
	close(ready)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	}
	launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	time.Sleep(5 * testRestartDelay)
	if got := launcher.callCount(); got != 1 {
		t.Errorf("launches = %d, want 1", got)
	}
	if got := m.Running(); got != 1 {
		t.Errorf("Running() = %d, want 1", got)
	}
}

func TestManagerStartInvalidService(t *testing.T) {
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher})

	for _, name := range []string{"", "Telegram", "../etc", "a b", "-lead", "x/y"} {
		if err := m.Start(context.Background(), name); !errors.Is(err, ErrInvalidService) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidService", name, err)
		}
	}
	if got := launcher.callCount(); got != 0 {
		t.Errorf("launches = %d, want 0", got)
	}
}

func TestManagerStatusUnknownService(t *testing.T) {
	m := newTestManager(t, Options{Launcher: newFakeLauncher()})
	if got := m.Status("nobody"); got != "disconnected" {
		t.Errorf("Status() = %q, want disconnected", got)
	}
}

func TestManagerSend(t *testing.T) {
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher})

	if err := m.Send("telegram", "ping"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Send() before start error = %v, want ErrNotRunning", err)
	}

	if err := m.Start(context.Background(), "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w := launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	if err := m.Send("telegram", `{"type":"auth.code","data":{"code":"123"}}`); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := m.Send("telegram", "ping\n"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := "{\"type\":\"auth.code\",\"data\":{\"code\":\"123\"}}\nping\n"
	if got := w.output(); got != want {
		t.Errorf("worker stdin = %q, want %q", got, want)
	}
}

func TestManagerDropsInvalidOutput(t *testing.T) {
	launcher := newFakeLauncher()
	sink := &recordingSink{}
	m := newTestManager(t, Options{Launcher: launcher, Sink: sink})

	if err := m.Start(context.Background(), "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w := launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	w.stdout("not json at all")
	w.stdout(`[1,2,3]`)
	w.stderr("warning: something on stderr")
	w.stdout(`{"type":"auth.qr"`)
	w.stdout(`{"type":"ping"}`)

	waitFor(t, "ping event", func() bool { return sink.count(`{"type":"ping"}`) == 1 })

	if got := len(sink.all()); got != 1 {
		t.Errorf("emitted %d events, want only the valid one: %+v", got, sink.all())
	}
	if got := m.Status("telegram"); got != "connected" {
		t.Errorf("Status() = %q, want connected", got)
	}
}

func TestManagerEventChannelClosed(t *testing.T) {
	launcher := newFakeLauncher()
	sink := &recordingSink{}
	observer := &recordingObserver{}
	m := newTestManager(t, Options{Launcher: launcher, Sink: sink, Observer: observer})

	if err := m.Start(context.Background(), "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w := launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	close(w.events)
	waitFor(t, "disconnect event", func() bool { return sink.count(disconnectedPayload) == 1 })
	launcher.next(t)

	codes := observer.exitCodes()
	if len(codes) == 0 || codes[0] != process.UnknownExitCode {
		t.Errorf("exit codes = %v, want first %d", codes, process.UnknownExitCode)
	}
}

func TestManagerRetriesFailedSpawn(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.failFirst = 2
	observer := &recordingObserver{}
	sink := &recordingSink{}
	m := newTestManager(t, Options{Launcher: launcher, Sink: sink, Observer: observer})

	if err := m.Start(context.Background(), "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	if got := observer.failures(); got != 2 {
		t.Errorf("spawn failures = %d, want 2", got)
	}
	// A failed spawn never reached Running, so nothing was disconnected.
	if got := sink.count(disconnectedPayload); got != 0 {
		t.Errorf("disconnect events = %d, want 0", got)
	}

	list := m.List(context.Background())
	if len(list) != 1 || list[0].LastError != "" {
		t.Errorf("List() = %+v, want cleared last error", list)
	}
}

func TestManagerShutdown(t *testing.T) {
	launcher := newFakeLauncher()
	sink := &recordingSink{}
	observer := &recordingObserver{}
	m := NewManager(Options{
		Launcher: launcher,
		Sink:     sink,
		Observer: observer,
		Backoff:  FixedBackoff(time.Hour),
	})
	ctx := context.Background()

	if err := m.Start(ctx, "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx, "signal"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	workers := []*fakeWorker{launcher.next(t), launcher.next(t)}
	waitFor(t, "both registered", func() bool { return len(m.registry.Snapshot()) == 2 })

	// Put one service into backoff; shutdown must not wait out the hour.
	workers[0].exit(1)
	waitFor(t, "one disconnected", func() bool { return sink.count(disconnectedPayload) == 1 })

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if m.Running() != 0 {
		t.Errorf("Running() = %d after shutdown, want 0", m.Running())
	}
	if n := len(m.registry.Snapshot()); n != 0 {
		t.Errorf("registry has %d entries after shutdown", n)
	}
	if !workers[1].isStopped() || !workers[1].isClosed() {
		t.Error("running worker should be closed and stopped on shutdown")
	}
	if got := sink.count(disconnectedPayload); got != 2 {
		t.Errorf("disconnect events = %d, want 2", got)
	}
	if err := m.Start(ctx, "telegram"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start() after shutdown error = %v, want ErrShuttingDown", err)
	}

	observer.mu.Lock()
	last := observer.statuses[len(observer.statuses)-1]
	observer.mu.Unlock()
	if last != StatusDisconnected {
		t.Errorf("last observed status = %q, want disconnected", last)
	}
}

// memStore is an in-memory ServiceStore.
type memStore struct {
	mu        sync.Mutex
	autostart []string
	marked    []string
	records   map[string]*ServiceRecord
	getErr    error
}

func (s *memStore) MarkStarted(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, service)
	if s.records == nil {
		s.records = make(map[string]*ServiceRecord)
	}
	if rec, ok := s.records[service]; ok {
		rec.Autostart = true
	} else {
		s.records[service] = &ServiceRecord{Service: service, Autostart: true}
	}
	return nil
}

func (s *memStore) SetAutostart(_ context.Context, service string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[service]
	if !ok {
		return ErrServiceNotFound
	}
	rec.Autostart = enabled
	return nil
}

func (s *memStore) Get(_ context.Context, service string) (*ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[service]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) AutostartServices(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.autostart...), nil
}

func TestManagerRestoreAutostart(t *testing.T) {
	launcher := newFakeLauncher()
	store := &memStore{autostart: []string{"telegram", "whatsapp"}}
	m := newTestManager(t, Options{Launcher: launcher, Store: store})

	err := m.RestoreAutostart(context.Background(), []string{"signal", "telegram", "Not Valid"})
	if err != nil {
		t.Fatalf("RestoreAutostart() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		launcher.next(t)
	}

	got := launcher.launchedServices()
	sort.Strings(got)
	want := []string{"signal", "telegram", "whatsapp"}
	if len(got) != len(want) {
		t.Fatalf("launched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("launched %v, want %v", got, want)
			break
		}
	}

	store.mu.Lock()
	marked := len(store.marked)
	store.mu.Unlock()
	if marked != 3 {
		t.Errorf("MarkStarted called %d times, want 3", marked)
	}
}

func TestValidateService(t *testing.T) {
	valid := []string{"telegram", "signal", "whatsapp-business", "x", "a1_b2", "9lives"}
	for _, s := range valid {
		if err := ValidateService(s); err != nil {
			t.Errorf("ValidateService(%q) error = %v", s, err)
		}
	}

	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	invalid := []string{"", "_x", "UPPER", "has space", "dot.name", string(long)}
	for _, s := range invalid {
		if err := ValidateService(s); !errors.Is(err, ErrInvalidService) {
			t.Errorf("ValidateService(%q) error = %v, want ErrInvalidService", s, err)
		}
	}
}

func TestManagerSetAutostart(t *testing.T) {
	launcher := newFakeLauncher()
	store := &memStore{}
	m := newTestManager(t, Options{Launcher: launcher, Store: store})
	ctx := context.Background()

	if err := m.SetAutostart(ctx, "telegram", false); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("SetAutostart() before start error = %v, want ErrServiceNotFound", err)
	}
	if err := m.SetAutostart(ctx, "Bad Name", false); !errors.Is(err, ErrInvalidService) {
		t.Errorf("SetAutostart() invalid name error = %v, want ErrInvalidService", err)
	}

	if err := m.Start(ctx, "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("telegram") == "connected" })

	if err := m.SetAutostart(ctx, "telegram", false); err != nil {
		t.Fatalf("SetAutostart() error = %v", err)
	}
	list := m.List(ctx)
	if len(list) != 1 || list[0].Autostart == nil || *list[0].Autostart {
		t.Errorf("List() = %+v, want autostart false", list)
	}
}

func TestManagerSetAutostartWithoutStore(t *testing.T) {
	m := newTestManager(t, Options{Launcher: newFakeLauncher()})
	if err := m.SetAutostart(context.Background(), "telegram", true); !errors.Is(err, ErrNoStore) {
		t.Errorf("SetAutostart() error = %v, want ErrNoStore", err)
	}
}

func TestManagerListUsesStoredExit(t *testing.T) {
	exitedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	code := 7
	store := &memStore{records: map[string]*ServiceRecord{
		"signal": {Service: "signal", Autostart: true, LastExitedAt: &exitedAt, LastExitCode: &code},
	}}
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher, Store: store})

	if err := m.Start(context.Background(), "signal"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w := launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("signal") == "connected" })

	list := m.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	got := list[0]
	if got.LastExitCode != 7 {
		t.Errorf("LastExitCode = %d, want stored 7", got.LastExitCode)
	}
	if got.LastExitedAt == nil || !got.LastExitedAt.Equal(exitedAt) {
		t.Errorf("LastExitedAt = %v, want %v", got.LastExitedAt, exitedAt)
	}
	if got.Uptime != time.Second || got.PID != w.PID() {
		t.Errorf("Uptime, PID = %v, %d, want worker stats", got.Uptime, got.PID)
	}

	// An exit seen by this supervisor wins over the stored one.
	w.exit(0)
	launcher.next(t)
	waitFor(t, "restarted", func() bool { return m.List(context.Background())[0].Spawns == 2 })
	if got := m.List(context.Background())[0].LastExitCode; got != 0 {
		t.Errorf("LastExitCode after exit = %d, want 0", got)
	}
}

func TestManagerListStoreError(t *testing.T) {
	store := &memStore{getErr: errors.New("database is locked")}
	launcher := newFakeLauncher()
	m := newTestManager(t, Options{Launcher: launcher, Store: store})

	if err := m.Start(context.Background(), "signal"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	launcher.next(t)
	waitFor(t, "connected", func() bool { return m.Status("signal") == "connected" })

	list := m.List(context.Background())
	if len(list) != 1 || list[0].Autostart != nil || list[0].Status != StatusConnected {
		t.Errorf("List() = %+v, want live info without stored fields", list)
	}
}

// writeWorkerScript installs an executable shell script named after the
// launcher's convention for service.
func writeWorkerScript(t *testing.T, dir, service, script string) {
	t.Helper()
	path := filepath.Join(dir, process.DefaultPrefix+"-"+service)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { //nolint:gosec // test worker must be executable
		t.Fatalf("writing worker script: %v", err)
	}
}

func TestManagerRealWorkerRestart(t *testing.T) {
	dir := t.TempDir()
	// The first run authenticates and exits 3; later runs stay up.
	writeWorkerScript(t, dir, "telegram", `#!/bin/sh
marker="$(dirname "$0")/ran-once"
echo '{"type":"auth.qr","data":{"code":"abc"}}'
if [ -f "$marker" ]; then
  echo '{"type":"auth.success"}'
  exec sleep 30
fi
touch "$marker"
echo '{"type":"auth.success"}'
exit 3
`)

	launcher := process.NewLauncher(process.LauncherConfig{Dir: dir, GracefulTimeout: time.Second})
	sink := &recordingSink{}
	observer := &recordingObserver{}
	m := newTestManager(t, Options{
		Launcher: NewProcessLauncher(launcher),
		Sink:     sink,
		Observer: observer,
	})

	if err := m.Start(context.Background(), "telegram"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "disconnect event", func() bool { return sink.count(disconnectedPayload) == 1 })
	waitFor(t, "second authentication", func() bool { return sink.count(`{"type":"auth.success"}`) == 2 })
	waitFor(t, "connected again", func() bool { return m.Status("telegram") == "connected" })

	var order []string
	for _, e := range sink.all() {
		if e.payload != `{"type":"auth.qr","data":{"code":"abc"}}` {
			order = append(order, e.payload)
		}
	}
	want := []string{`{"type":"auth.success"}`, disconnectedPayload, `{"type":"auth.success"}`}
	if len(order) != len(want) {
		t.Fatalf("events = %q, want %q", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, order[i], want[i])
		}
	}

	if codes := observer.exitCodes(); len(codes) != 1 || codes[0] != 3 {
		t.Errorf("exit codes = %v, want [3]", codes)
	}

	list := m.List(context.Background())
	if len(list) != 1 || list[0].Restarts != 1 || list[0].LastExitCode != 3 || list[0].PID == 0 {
		t.Errorf("List() = %+v, want one restart after exit 3 and a live PID", list)
	}

	if err := m.Send("telegram", "ping"); err != nil {
		t.Errorf("Send() to restarted worker error = %v", err)
	}
}
