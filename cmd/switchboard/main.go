// Switchboard Core - bridge worker supervisor.
//
// The core launches one long-lived worker process per messaging service,
// restarts it when it exits, forwards commands to its stdin and relays the
// JSON lines it prints to WebSocket and MQTT subscribers.
//
// Running the binary without a subcommand starts the core (same as "serve").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/switchboard-core/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor SWITCHBOARD_CONFIG
	// is set. If it does not exist the built-in defaults apply.
	defaultConfigPath = "configs/switchboard.yaml"

	configEnvVar = "SWITCHBOARD_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "switchboard",
		Short: "Supervise messaging bridge workers",
		Long: `switchboard runs one worker process per messaging service, restarts
workers that exit, forwards commands to them and relays their events to
WebSocket and MQTT subscribers.

Without a subcommand it starts the core, like "switchboard serve".`,
		Version: version,
		// Errors from running the core are not usage errors.
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
	cmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		fmt.Sprintf("config file (default $%s or %s)", configEnvVar, defaultConfigPath))

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newBridgeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the core until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

// resolveConfigPath picks the config file: the flag, then
// SWITCHBOARD_CONFIG, then the default path. An empty result means no file
// was requested and none exists at the default location.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// loadConfig loads the resolved config file, or the built-in defaults when
// there is none. A file named explicitly must exist.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := resolveConfigPath(flagPath)
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, "", fmt.Errorf("loading default config: %w", err)
		}
		return cfg, "", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, path, nil
}
