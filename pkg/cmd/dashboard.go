package cmd

import (
	"fmt"

	"wtunnel/pkg/config"
	"wtunnel/pkg/manager"
	"wtunnel/pkg/ui"
	"wtunnel/pkg/webhook"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"tui"},
		Short:   "Launch the interactive terminal dashboard",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				model := ui.NewModel(m)
				p := tea.NewProgram(model, tea.WithAltScreen())
				if _, err := p.Run(); err != nil {
					return fmt.Errorf("dashboard failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newWebhookServerCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "webhook-server",
		Short: "Run the example webhook receiver",
		Long: `Runs a small HTTP server that records incoming webhook requests, for
pointing a tunnel at and watching callbacks arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("🎣 Webhook receiver listening on http://127.0.0.1:%d\n", port)
			return webhook.ListenAndServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 5000, "port to listen on")
	return cmd
}
