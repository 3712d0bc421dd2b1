package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Default values for launcher configuration.
const (
	// DefaultPrefix is the binary name prefix for bridge workers.
	DefaultPrefix = "switchboard"

	defaultGracefulTimeout = 10 * time.Second
)

// ServiceConfig holds per-service launch overrides.
type ServiceConfig struct {
	Args    []string
	Env     []string
	WorkDir string
}

// LauncherConfig configures how worker binaries are located and started.
type LauncherConfig struct {
	// Prefix is prepended to the service name: "<prefix>-<service>".
	Prefix string

	// Dir is searched first for the binary. If empty or the binary is not
	// there, PATH is used.
	Dir string

	// GracefulTimeout is applied to every spawned process.
	GracefulTimeout time.Duration

	// MaxLineSize caps one worker output line. Zero means MaxLineSize.
	MaxLineSize int

	// Services holds optional per-service overrides keyed by service name.
	Services map[string]ServiceConfig
}

// Launcher spawns worker processes for named services.
type Launcher struct {
	cfg    LauncherConfig
	logger Logger

	// lookPath is exec.LookPath, replaceable in tests.
	lookPath func(file string) (string, error)
}

// NewLauncher creates a Launcher with defaults applied.
func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	return &Launcher{
		cfg:      cfg,
		logger:   noopLogger{},
		lookPath: exec.LookPath,
	}
}

// SetLogger sets the logger handed to every spawned process.
func (l *Launcher) SetLogger(logger Logger) {
	l.logger = logger
}

// BinaryName returns the executable name for a service.
func (l *Launcher) BinaryName(service string) string {
	return l.cfg.Prefix + "-" + service
}

// Resolve builds the launch request for a service.
//
// Returns ErrBinaryNotFound if no executable matches the naming convention.
func (l *Launcher) Resolve(service string) (Config, error) {
	name := l.BinaryName(service)

	binary, err := l.findBinary(name)
	if err != nil {
		return Config{}, err
	}

	override := l.cfg.Services[service]
	return Config{
		Name:            name,
		Binary:          binary,
		Args:            override.Args,
		Env:             override.Env,
		WorkDir:         override.WorkDir,
		GracefulTimeout: l.cfg.GracefulTimeout,
		MaxLineSize:     l.cfg.MaxLineSize,
	}, nil
}

// findBinary looks in the configured directory, then PATH.
func (l *Launcher) findBinary(name string) (string, error) {
	if l.cfg.Dir != "" {
		candidate := filepath.Join(l.cfg.Dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}

	path, err := l.lookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, name, err)
	}
	return path, nil
}

// Launch resolves and spawns the worker for service.
//
// It performs:
//  1. Resolves "<prefix>-<service>" in the binary directory, then on PATH
//  2. Applies the per-service args, env and working directory overrides
//  3. Spawns the binary in its own process group with output streaming
//
// Parameters:
//   - ctx: Checked before the process is started; it does not bound the
//     worker's lifetime
//   - service: Validated service name
//
// Returns:
//   - *Process: The running worker; release it with Stop, Kill or by
//     draining Events
//   - error: ErrBinaryNotFound or ErrSpawnFailed
func (l *Launcher) Launch(ctx context.Context, service string) (*Process, error) {
	cfg, err := l.Resolve(service)
	if err != nil {
		return nil, err
	}
	return Spawn(ctx, cfg, l.logger)
}
