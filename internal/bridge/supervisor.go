package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/switchboard-core/internal/process"
)

// supervisor keeps one service's worker alive until its context is cancelled.
//
// Lifecycle per cycle:
//
//	spawn ──ok──▶ running (registered, Connected) ──exit──▶ teardown ──▶ backoff ─┐
//	  │                                                                          │
//	  └──fail──────────────────────────────────────────────────────▶ backoff ────┘
//
// Cancellation during running kills the worker; during backoff it returns
// immediately. Either way the supervisor exits without respawning.
type supervisor struct {
	service  string
	launcher Launcher
	registry *Registry
	sink     EventSink
	observer Observer
	backoff  Backoff
	logger   Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	spawns   int
	exits    int
	lastExit int
	lastErr  error
}

// supervisorStats is a point-in-time view of a supervisor's counters.
type supervisorStats struct {
	Spawns       int
	Exits        int
	LastExitCode int
	LastError    error
}

func (s *supervisor) stats() supervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return supervisorStats{
		Spawns:       s.spawns,
		Exits:        s.exits,
		LastExitCode: s.lastExit,
		LastError:    s.lastErr,
	}
}

// run is the supervisor's main loop. It closes s.done on return.
func (s *supervisor) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	for {
		uptime := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("bridge supervisor stopped", "bridge", s.service)
			return
		}

		if uptime >= stableThreshold {
			attempt = 0
		}
		attempt++

		delay := s.backoff.Delay(attempt)
		s.logger.Info("restarting bridge after delay",
			"bridge", s.service,
			"delay", delay,
			"attempt", attempt,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("bridge supervisor stopped during backoff", "bridge", s.service)
			return
		case <-timer.C:
		}
	}
}

// runOnce spawns one worker, relays its output until it ends, and tears it
// down. It returns how long the worker ran (zero if the spawn failed).
func (s *supervisor) runOnce(ctx context.Context) time.Duration {
	worker, err := s.launcher.Launch(ctx, s.service)
	if err != nil {
		s.logger.Error("failed to spawn bridge", "bridge", s.service, "error", err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.observer.BridgeSpawnFailed(s.service, err)
		return 0
	}

	s.mu.Lock()
	s.spawns++
	s.lastErr = nil
	s.mu.Unlock()

	h := NewHandle(s.service, worker)
	s.registry.Insert(h)

	pid := worker.PID()
	s.logger.Info("bridge started", "bridge", s.service, "pid", pid)
	s.observer.BridgeSpawned(s.service, pid)
	s.observer.BridgeStatusChanged(s.service, StatusConnected)

	code, cancelled := s.relay(ctx, h, worker.Events())

	// Removing first closes the handle, which abandons the event feed so
	// the worker's readers never block on an undrained channel.
	s.registry.Remove(h)
	if cancelled {
		if err := worker.Stop(); err != nil {
			s.logger.Warn("error stopping bridge", "bridge", s.service, "error", err)
		}
	}

	uptime := time.Since(h.StartedAt())
	s.mu.Lock()
	s.exits++
	s.lastExit = code
	s.mu.Unlock()

	s.logger.Info("bridge exited",
		"bridge", s.service,
		"pid", pid,
		"exit_code", code,
		"uptime", uptime.Round(time.Millisecond),
	)
	s.sink.Emit(s.service, DisconnectedEvent())
	s.observer.BridgeStatusChanged(s.service, StatusDisconnected)
	s.observer.BridgeExited(s.service, code, uptime)

	return uptime
}

// relay reads the worker's events until termination or cancellation.
// It returns the exit code and whether the context was cancelled.
func (s *supervisor) relay(ctx context.Context, h *Handle, events <-chan process.Event) (int, bool) {
	for {
		select {
		case <-ctx.Done():
			return process.UnknownExitCode, true

		case ev, ok := <-events:
			if !ok {
				s.logger.Warn("bridge output closed without exit status", "bridge", s.service)
				return process.UnknownExitCode, false
			}

			switch ev.Kind {
			case process.EventStdout:
				s.handleLine(h, ev.Line)
			case process.EventStderr:
				s.logger.Info("bridge stderr", "bridge", s.service, "line", sanitizeLine(ev.Line))
			case process.EventTerminated:
				if ev.Err != nil {
					s.logger.Debug("bridge wait error", "bridge", s.service, "error", ev.Err)
				}
				return ev.Code, false
			}
		}
	}
}

// handleLine decodes one stdout line, applies any status transition, and
// forwards the message to the sink. Status is updated before the event is
// emitted so a consumer reacting to the event reads the new status.
func (s *supervisor) handleLine(h *Handle, line []byte) {
	text := sanitizeLine(line)
	env, payload, err := DecodeEnvelope([]byte(text))
	if err != nil {
		s.logger.Warn("dropping non-JSON bridge output",
			"bridge", s.service,
			"line", strings.TrimSpace(text),
			"error", err,
		)
		return
	}

	if status, ok := Classify(env); ok {
		if s.registry.SetStatus(h, status) {
			s.observer.BridgeStatusChanged(s.service, status)
		}
	}

	s.sink.Emit(s.service, payload)
}
