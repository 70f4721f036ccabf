package cmd

import (
	"errors"
	"fmt"
	"os"

	"wtunnel/pkg/config"
	"wtunnel/pkg/logging"
	"wtunnel/pkg/manager"
	"wtunnel/pkg/registry"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes. Front-ends and scripts rely on these to tell a missing
// tunnel apart from an unusable registry.
const (
	ExitOK                  = 0
	ExitOperationFailed     = 1
	ExitTunnelNotFound      = 2
	ExitRegistryUnavailable = 3
)

var (
	stateDirFlag string
	debugFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "wtunnel",
	Short: "Manage named local port-forwarding tunnels",
	Long: `wtunnel exposes locally running services under synthetic hostnames
(<name>.localhost) and, optionally, public internet URLs, for testing
webhook callbacks that need a stable reachable address.

Run 'wtunnel dashboard' for the interactive terminal UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits with the mapped code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto the CLI contract.
func exitCode(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return ExitTunnelNotFound
	case errors.Is(err, registry.ErrStoreCorrupt), errors.Is(err, registry.ErrLockTimeout):
		return ExitRegistryUnavailable
	default:
		return ExitOperationFailed
	}
}

// withManager loads config, opens the registry, and hands a wired
// manager to fn, closing everything afterwards.
func withManager(fn func(m *manager.Manager, cfg *config.Config) error) error {
	cfg, err := config.Load(stateDirFlag)
	if err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if debugFlag {
		level = zerolog.DebugLevel
	}
	if err := logging.Init(cfg.AppLogPath(), level); err != nil {
		return err
	}

	store, err := registry.Open(cfg.RegistryPath(), cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(manager.New(cfg, store), cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "state directory (default ~/.wtunnel)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStopAllCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newPublicCmd())
	rootCmd.AddCommand(newDashboardCmd())
	rootCmd.AddCommand(newWebhookServerCmd())
}
