package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"wtunnel/pkg/config"
	"wtunnel/pkg/manager"
	"wtunnel/pkg/registry"
	"wtunnel/pkg/supervisor"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tunnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				tunnels, err := m.List(cmd.Context())
				if err != nil {
					return err
				}

				if outputJSON {
					return json.NewEncoder(os.Stdout).Encode(tunnels)
				}

				if len(tunnels) == 0 {
					fmt.Println("📭 No tunnels")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATUS\tLOCAL\tGATEWAY\tEXTERNAL URL\tUPTIME")
				now := time.Now()
				for _, t := range tunnels {
					uptime := "-"
					if u := t.Uptime(now); u > 0 {
						uptime = humanize.RelTime(now.Add(-u), now, "", "")
					}
					fmt.Fprintf(w, "%s\t%s\t:%d\t:%d\t%s\t%s\n",
						t.Name, statusBadge(t.Status), t.LocalPort, t.PublicPort,
						orDash(t.ExternalURL), uptime)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show detailed information about a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				t, err := m.Info(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				fmt.Printf("Name:         %s\n", t.Name)
				fmt.Printf("Status:       %s\n", statusBadge(t.Status))
				fmt.Printf("Created:      %s\n", t.CreatedAt.Format(time.RFC3339))
				fmt.Printf("Local port:   %d\n", t.LocalPort)
				fmt.Printf("Gateway port: %d\n", t.PublicPort)
				fmt.Printf("Hostname:     %s\n", t.Hostname)
				fmt.Printf("Gateway URL:  %s\n", t.GatewayURL())
				fmt.Printf("Loopback URL: %s\n", t.LoopbackURL())
				fmt.Printf("Public:       %v\n", t.PublicEnabled)
				if t.ExternalURL != "" {
					fmt.Printf("External URL: %s\n", t.ExternalURL)
				}
				if t.LocalPID != 0 {
					fmt.Printf("Forwarder PID: %d\n", t.LocalPID)
				}
				if t.PublicPID != 0 {
					fmt.Printf("Helper PID:    %d\n", t.PublicPID)
				}
				fmt.Printf("Log file:     %s\n", t.LogPath)
				if t.LastError != "" {
					fmt.Printf("\nLast error:\n%s\n", t.LastError)
				}
				return nil
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	var (
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show captured output of a tunnel's subprocesses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				content, err := m.Logs(args[0], lines)
				if err != nil {
					return err
				}
				if content == "" {
					fmt.Println("(empty)")
				} else {
					fmt.Println(content)
				}

				if !follow {
					return nil
				}

				path, err := m.LogPath(args[0])
				if err != nil {
					return err
				}
				fmt.Println("Following logs (Ctrl+C to stop)...")
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				if err := supervisor.FollowFile(ctx, path, os.Stdout); err != nil && err != context.Canceled {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show resource usage of all tunnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *manager.Manager, cfg *config.Config) error {
				stats, err := m.Stats(cmd.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATUS\tCPU\tMEMORY\tUPTIME")
				for _, t := range stats.Tunnels {
					fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\n",
						t.Name, statusBadge(t.Status), t.CPUPercent,
						humanize.IBytes(uint64(t.MemoryMB*1024*1024)), t.Uptime.Round(time.Second))
				}
				w.Flush()

				fmt.Printf("\nTotal: %d | Active: %d | Dead: %d | CPU: %.1f%% | Memory: %s\n",
					stats.Total, stats.Active, stats.Dead, stats.TotalCPU,
					humanize.IBytes(uint64(stats.TotalMemoryMB*1024*1024)))
				return nil
			})
		},
	}
}

func statusBadge(s registry.Status) string {
	switch s {
	case registry.StatusRunning:
		return "🟢 running"
	case registry.StatusDegraded:
		return "🟡 degraded"
	case registry.StatusPending:
		return "⚪ pending"
	case registry.StatusStopped:
		return "⚫ stopped"
	case registry.StatusFailed:
		return "🔴 failed"
	default:
		return string(s)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
