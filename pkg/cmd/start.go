package cmd

import (
	"fmt"
	"strconv"

	"wtunnel/pkg/config"
	"wtunnel/pkg/manager"
	"wtunnel/pkg/registry"

	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		subdomain  string
		publicPort int
		public     bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "start <name> <local_port>",
		Short: "Start a new tunnel for a locally running service",
		Example: `  wtunnel start myapi 3000
  wtunnel start myapi 3000 --subdomain api --public`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPort, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("local_port must be a number: %q", args[1])
			}

			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				fmt.Printf("🚀 Starting tunnel '%s'...\n", args[0])
				rec, err := m.Create(cmd.Context(), manager.CreateOptions{
					Name:       args[0],
					LocalPort:  localPort,
					Subdomain:  subdomain,
					PublicPort: publicPort,
					Public:     public,
					Force:      force,
				})
				if err != nil {
					return err
				}
				printTunnelCreated(rec)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&subdomain, "subdomain", "s", "", "custom subdomain (defaults to the tunnel name)")
	cmd.Flags().IntVarP(&publicPort, "public-port", "p", 0, "gateway port (default: auto-assigned)")
	cmd.Flags().BoolVar(&public, "public", false, "expose the tunnel to the internet via the public helper")
	cmd.Flags().BoolVar(&force, "force", false, "create even if nothing is listening on local_port yet")
	return cmd
}

func printTunnelCreated(rec registry.Tunnel) {
	fmt.Printf("✅ Tunnel created: %s\n\n", rec.Name)
	fmt.Printf("  Status:       %s\n", rec.Status)
	fmt.Printf("  Local port:   %d\n", rec.LocalPort)
	fmt.Printf("  Gateway port: %d\n", rec.PublicPort)
	fmt.Printf("  Hostname URL: %s\n", rec.GatewayURL())
	fmt.Printf("  Loopback URL: %s\n", rec.LoopbackURL())
	if rec.ExternalURL != "" {
		fmt.Printf("  External URL: %s\n", rec.ExternalURL)
	}
	if rec.Status == registry.StatusDegraded {
		fmt.Printf("\n⚠️  Public exposure is not up yet: %s\n", rec.LastError)
	}
	fmt.Printf("\nIf the hostname does not resolve, test without OS DNS changes:\n  %s\n", rec.CurlResolveExample())
}
