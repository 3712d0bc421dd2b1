package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// EventKind identifies what a worker Event carries.
type EventKind int

const (
	// EventStdout is one line read from the worker's standard output.
	EventStdout EventKind = iota
	// EventStderr is one line read from the worker's standard error.
	EventStderr
	// EventTerminated is sent once, after both output streams are drained
	// and the process has been reaped.
	EventTerminated
)

// String returns a short name for logging.
func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// UnknownExitCode is reported when the process ended without a normal exit
// status (killed by a signal, or Wait failed).
const UnknownExitCode = -1

// MaxLineSize is the default longest stdout/stderr line accepted from a
// worker (16MB). Longer lines are logged and skipped; reading continues with
// the next line.
const MaxLineSize = 16 << 20

// readBufferSize is the size of the per-stream read buffer. Lines longer
// than this are assembled from several reads.
const readBufferSize = 64 * 1024

// outputGrace is how long the output readers may keep draining after the
// worker has been reaped. Past it, leftover processes still holding the
// pipes are killed.
const outputGrace = 500 * time.Millisecond

// eventBufferSize is how many events may queue before the readers block.
const eventBufferSize = 64

// Event is a single item from a worker's event feed.
type Event struct {
	Kind EventKind

	// Line holds the raw bytes of a stdout/stderr line without its
	// trailing newline. The slice is owned by the receiver.
	Line []byte

	// Code is the exit code for EventTerminated, or UnknownExitCode.
	Code int

	// Err is the error returned by Wait for EventTerminated, if any.
	Err error
}

// Config holds configuration for one worker launch.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// MaxLineSize caps one output line. Defaults to MaxLineSize.
	MaxLineSize int
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Process is one running worker.
//
// Thread Safety:
//   - Write, Stop, Kill and the accessors are safe for concurrent use.
//   - Events must be drained by a single consumer.
type Process struct {
	config Config
	logger Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startTime time.Time

	events chan Event
	// abandon is closed by Close so blocked readers can give up when the
	// consumer stops draining events.
	abandon     chan struct{}
	abandonOnce sync.Once

	// done is closed once the process has been reaped.
	done chan struct{}

	writeMu sync.Mutex

	mu       sync.RWMutex
	exitCode int
	exitErr  error
	exited   bool
}

// Spawn starts the binary described by cfg and begins streaming its output.
//
// The returned Process must eventually be released with Stop, Kill or by
// draining Events until the channel closes.
func Spawn(ctx context.Context, cfg Config, logger Logger) (*Process, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = MaxLineSize
	}

	logger.Info("starting process",
		"name", cfg.Name,
		"binary", cfg.Binary,
		"args", cfg.Args,
	)

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // Binary comes from Launcher.Resolve

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	// The output pipes are plain files so that reaping the worker never
	// waits for them to reach EOF.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdout, stdoutW)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeFiles(stdout, stdoutW, stderr, stderrW)
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	if err := ctx.Err(); err != nil {
		closeFiles(stdout, stdoutW, stderr, stderrW)
		_ = stdin.Close() //nolint:errcheck // Never handed to a child
		return nil, fmt.Errorf("starting %s: %w", cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		closeFiles(stdout, stdoutW, stderr, stderrW)
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, cfg.Name, err)
	}
	// The child holds its own copies of the write ends.
	closeFiles(stdoutW, stderrW)

	p := &Process{
		config:    cfg,
		logger:    logger,
		cmd:       cmd,
		stdin:     stdin,
		startTime: time.Now(),
		events:    make(chan Event, eventBufferSize),
		abandon:   make(chan struct{}),
		done:      make(chan struct{}),
		exitCode:  UnknownExitCode,
	}

	streams := []*outputStream{
		{kind: EventStdout, file: stdout},
		{kind: EventStderr, file: stderr},
	}
	var readers sync.WaitGroup
	readers.Add(len(streams))
	for _, s := range streams {
		go p.captureOutput(s, &readers)
	}
	go p.wait(&readers, streams)

	logger.Info("process started",
		"name", cfg.Name,
		"pid", cmd.Process.Pid,
	)

	return p, nil
}

// outputStream is the read end of one worker output pipe.
type outputStream struct {
	kind EventKind
	file *os.File

	// waitingSince is when the reader began waiting for input (UnixNano),
	// or zero while it is handling what it read.
	waitingSince atomic.Int64
}

// idleFor reports how long the reader has been waiting for input.
func (s *outputStream) idleFor() time.Duration {
	since := s.waitingSince.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.Unix(0, since))
}

// captureOutput reads lines from s and forwards each as an event.
//
// A line longer than the configured maximum is skipped up to its newline and
// logged; the lines after it are still delivered.
func (p *Process) captureOutput(s *outputStream, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.file.Close() //nolint:errcheck // Read end; wait may have closed it already

	kind := s.kind
	reader := bufio.NewReaderSize(s.file, readBufferSize)
	var (
		line    []byte
		dropped int
	)
	for {
		s.waitingSince.Store(time.Now().UnixNano())
		chunk, err := reader.ReadSlice('\n')
		s.waitingSince.Store(0)
		if dropped > 0 {
			dropped += len(chunk)
		} else {
			line = append(line, chunk...)
			// +1 leaves room for the newline itself.
			if len(line) > p.config.MaxLineSize+1 {
				dropped, line = len(line), nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case dropped > 0:
			p.logger.Warn("dropped oversized output line",
				"name", p.config.Name,
				"stream", kind.String(),
				"bytes", dropped,
				"limit", p.config.MaxLineSize,
			)
			dropped = 0
		case len(line) > 0:
			if !p.emit(Event{Kind: kind, Line: trimNewline(line)}) {
				// Consumer gone; keep draining so the child never blocks on a full pipe.
				s.waitingSince.Store(time.Now().UnixNano())
				_, _ = io.Copy(io.Discard, reader) //nolint:errcheck // Best-effort drain
				return
			}
		}
		line = nil

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Warn("output stream closed with error",
					"name", p.config.Name,
					"stream", kind.String(),
					"error", err,
				)
			}
			return
		}
	}
}

// trimNewline strips a trailing "\n" or "\r\n".
func trimNewline(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// wait reaps the process, gives the readers outputGrace to drain what the
// worker wrote, then publishes the termination event and closes the feed.
//
// A background child that inherited the output pipes would keep the readers
// from reaching EOF. Such leftovers in the worker's process group are killed.
// A pipe still open after that (held by a process outside the group) is
// closed once its reader has waited a full outputGrace for input; a reader
// that is only waiting on a slow consumer is left alone.
func (p *Process) wait(readers *sync.WaitGroup, streams []*outputStream) {
	err := p.cmd.Wait()

	code := UnknownExitCode
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	killed := false
	for !waitClosed(drained, outputGrace) {
		for _, s := range streams {
			if s.idleFor() < outputGrace {
				continue
			}
			if !killed {
				p.logger.Warn("worker exited but its output is still open, killing leftover processes",
					"name", p.config.Name,
					"pid", p.cmd.Process.Pid,
				)
				if err := p.Kill(); err != nil {
					p.logger.Warn("failed to kill leftover processes", "name", p.config.Name, "error", err)
				}
				killed = true
				break
			}
			_ = s.file.Close() //nolint:errcheck // Unblocks the reader
		}
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)

	p.logger.Debug("process exited",
		"name", p.config.Name,
		"code", code,
		"error", err,
	)

	p.emit(Event{Kind: EventTerminated, Code: code, Err: err})
	close(p.events)
}

// waitClosed reports whether ch closed within d.
func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close() //nolint:errcheck // Pipe ends; nothing to recover
	}
}

// emit delivers ev unless the consumer has abandoned the feed.
func (p *Process) emit(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.abandon:
		return false
	}
}

// Events returns the ordered event feed. The channel is closed after the
// EventTerminated event.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Write sends raw bytes to the worker's standard input.
func (p *Process) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n, err := p.stdin.Write(b)
	if err != nil {
		return n, fmt.Errorf("writing to %s stdin: %w", p.config.Name, err)
	}
	return n, nil
}

// Close stops delivering events to the consumer and releases stdin.
// It does not signal the process; use Stop or Kill for that.
func (p *Process) Close() error {
	p.abandonOnce.Do(func() { close(p.abandon) })

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing %s stdin: %w", p.config.Name, err)
	}
	return nil
}

// Stop gracefully stops the worker.
// It sends SIGTERM to the process group and waits for exit, then SIGKILL if
// the graceful timeout elapses.
func (p *Process) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.cmd.Process.Pid
	p.logger.Info("stopping process", "name", p.config.Name, "pid", pid)

	// Negative PID signals the whole process group (created via Setpgid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			p.logger.Warn("failed to send SIGTERM to process group", "name", p.config.Name, "error", err)
		}
	}

	select {
	case <-p.done:
		p.logger.Info("process stopped gracefully", "name", p.config.Name)
		return nil
	case <-time.After(p.config.GracefulTimeout):
		p.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", p.config.Name,
			"timeout", p.config.GracefulTimeout,
		)
	}

	if err := p.Kill(); err != nil {
		return err
	}

	<-p.done
	p.logger.Info("process killed", "name", p.config.Name)
	return nil
}

// Kill sends SIGKILL to the worker's process group without waiting.
func (p *Process) Kill() error {
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", p.config.Name, err)
		}
	}
	return nil
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stats returns statistics about a worker run.
type Stats struct {
	Name     string        `json:"name"`
	PID      int           `json:"pid"`
	Uptime   time.Duration `json:"uptime"`
	Exited   bool          `json:"exited"`
	ExitCode int           `json:"exit_code"`
}

// Stats returns current statistics for the process.
func (p *Process) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		Name:     p.config.Name,
		PID:      p.cmd.Process.Pid,
		Exited:   p.exited,
		ExitCode: p.exitCode,
	}
	if !p.exited {
		stats.Uptime = time.Since(p.startTime)
	}
	return stats
}
