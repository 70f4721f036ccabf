package cmd

import (
	"fmt"
	"strings"

	"wtunnel/pkg/config"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change global configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(stateDirFlag)
			if err != nil {
				return err
			}

			if domain != "" {
				cfg.Domain = domain
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Printf("✅ Domain configured: %s\n", domain)
				return nil
			}

			fmt.Printf("State dir:          %s\n", cfg.StateDir())
			fmt.Printf("Domain:             %s\n", cfg.Domain)
			fmt.Printf("Port range:         %d-%d\n", cfg.PortRangeStart, cfg.PortRangeEnd)
			fmt.Printf("Grace period:       %s\n", cfg.GracePeriod)
			fmt.Printf("Public URL timeout: %s\n", cfg.PublicURLTimeout)
			fmt.Printf("Lock timeout:       %s\n", cfg.LockTimeout)
			fmt.Printf("Forwarder command:  %s\n", strings.Join(cfg.ForwarderCommand, " "))
			fmt.Printf("Helper command:     %s\n", strings.Join(cfg.HelperCommand, " "))
			if cfg.BundledNode.NpxPath != "" {
				fmt.Printf("Bundled Node.js:    %s (%s)\n", cfg.BundledNode.Version, cfg.BundledNode.NpxPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "set the base domain for synthetic hostnames")
	return cmd
}
