package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/switchboard-core/internal/process"
)

// fakeWorker is an in-memory Worker driven by the test.
type fakeWorker struct {
	pid    int
	events chan process.Event

	mu       sync.Mutex
	written  bytes.Buffer
	writes   int
	writeErr error
	closed   bool
	stopped  bool
}

func newFakeWorker(pid int) *fakeWorker {
	return &fakeWorker{
		pid:    pid,
		events: make(chan process.Event, 64),
	}
}

func (w *fakeWorker) Events() <-chan process.Event { return w.events }

func (w *fakeWorker) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	w.writes++
	return w.written.Write(b)
}

func (w *fakeWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWorker) PID() int { return w.pid }

func (w *fakeWorker) Stats() process.Stats {
	return process.Stats{Name: "fake", PID: w.pid, Uptime: time.Second}
}

func (w *fakeWorker) stdout(line string) {
	w.events <- process.Event{Kind: process.EventStdout, Line: []byte(line)}
}

func (w *fakeWorker) stderr(line string) {
	w.events <- process.Event{Kind: process.EventStderr, Line: []byte(line)}
}

func (w *fakeWorker) exit(code int) {
	w.events <- process.Event{Kind: process.EventTerminated, Code: code}
	close(w.events)
}

func (w *fakeWorker) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written.String()
}

func (w *fakeWorker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWorker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// fakeLauncher hands out a new fakeWorker per launch and publishes it on
// the launched channel. The first failFirst launches fail.
type fakeLauncher struct {
	launched chan *fakeWorker

	mu        sync.Mutex
	calls     int
	services  []string
	failFirst int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{launched: make(chan *fakeWorker, 32)}
}

func (l *fakeLauncher) Launch(_ context.Context, service string) (Worker, error) {
	l.mu.Lock()
	l.calls++
	l.services = append(l.services, service)
	call := l.calls
	fail := call <= l.failFirst
	l.mu.Unlock()

	if fail {
		return nil, errors.New("binary not found")
	}
	w := newFakeWorker(1000 + call)
	l.launched <- w
	return w, nil
}

func (l *fakeLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *fakeLauncher) launchedServices() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.services...)
}

// next waits for the next launched worker.
func (l *fakeLauncher) next(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-l.launched:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker launch")
		return nil
	}
}

type emitted struct {
	service string
	payload string
}

// recordingSink stores every emitted event.
type recordingSink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *recordingSink) Emit(service string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{service: service, payload: string(payload)})
}

func (s *recordingSink) all() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.events...)
}

func (s *recordingSink) count(payload string) int {
	n := 0
	for _, e := range s.all() {
		if e.payload == payload {
			n++
		}
	}
	return n
}

// recordingObserver counts lifecycle callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	spawned  int
	failed   int
	exited   []int
	statuses []Status
}

func (o *recordingObserver) BridgeSpawned(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawned++
}

func (o *recordingObserver) BridgeSpawnFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) BridgeStatusChanged(_ string, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) BridgeExited(_ string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exited = append(o.exited, code)
}

func (o *recordingObserver) failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}

func (o *recordingObserver) exitCodes() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.exited...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
