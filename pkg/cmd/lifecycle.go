package cmd

import (
	"errors"
	"fmt"

	"wtunnel/pkg/config"
	"wtunnel/pkg/manager"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				if err := m.Stop(cmd.Context(), args[0], purge); err != nil {
					return err
				}
				fmt.Printf("✅ Tunnel '%s' stopped\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "also remove the tunnel record from the registry")
	return cmd
}

func newStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stopall",
		Short: "Stop every running tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				outcomes, err := m.StopAll(cmd.Context())
				if err != nil {
					return err
				}
				if len(outcomes) == 0 {
					fmt.Println("📭 No running tunnels")
					return nil
				}

				var failed int
				for _, o := range outcomes {
					if o.Err != nil {
						failed++
						fmt.Printf("  ❌ %s: %v\n", o.Name, o.Err)
					} else {
						fmt.Printf("  ✅ %s\n", o.Name)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d tunnels failed to stop", failed, len(outcomes))
				}
				fmt.Println("\n✅ All tunnels stopped")
				return nil
			})
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a tunnel, preserving its name and ports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				fmt.Printf("🔄 Restarting tunnel '%s'...\n", args[0])
				rec, err := m.Restart(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("✅ Tunnel '%s' restarted (status: %s, gateway: %d)\n", rec.Name, rec.Status, rec.PublicPort)
				return nil
			})
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stopped and failed tunnel records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				purged, err := m.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				if len(purged) == 0 {
					fmt.Println("✨ No inactive tunnels found")
					return nil
				}
				fmt.Printf("✅ Removed %d inactive tunnel(s)\n", len(purged))
				for _, name := range purged {
					fmt.Printf("  • %s\n", name)
				}
				return nil
			})
		},
	}
}

func newPublicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "public",
		Short: "Manage public exposure of an existing tunnel",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <name>",
		Short: "Expose an existing tunnel to the internet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				rec, err := m.StartPublic(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, manager.ErrPublicExposureTimeout) {
						fmt.Printf("⚠️  %v. The tunnel stays up, check again with 'wtunnel info %s'\n", err, args[0])
						return nil
					}
					return err
				}
				fmt.Printf("✅ External URL: %s\n", rec.ExternalURL)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <name>",
		Short: "Stop public exposure, keeping the local forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				if _, err := m.StopPublic(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("✅ Public exposure of '%s' stopped\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
