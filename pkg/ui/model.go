package ui

import (
	"context"
	"fmt"
	"time"

	"wtunnel/pkg/manager"
	"wtunnel/pkg/registry"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// UIState represents the different views of the dashboard
type UIState int

const (
	StateTunnels UIState = iota // Tunnel table view
	StateLogs                   // Log pane for the selected tunnel
)

// refreshMsg carries a fresh snapshot from the manager.
type refreshMsg struct {
	tunnels []registry.Tunnel
	stats   manager.Stats
	err     error
}

// opResultMsg reports the outcome of a stop/restart issued from the UI.
type opResultMsg struct {
	action string
	name   string
	err    error
}

// logsMsg carries the log tail for the log pane.
type logsMsg struct {
	name    string
	content string
	err     error
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// Model is the dashboard state. It talks to the manager only; the
// registry and the processes stay behind that API.
type Model struct {
	uiState UIState

	mgr     *manager.Manager
	tunnels []registry.Tunnel
	stats   manager.Stats

	tunnelsTable table.Model
	width        int
	height       int

	errorMsg  string
	statusMsg string

	logName    string
	logContent string
}

// NewModel creates the dashboard model around a wired manager.
func NewModel(mgr *manager.Manager) *Model {
	t := table.New(
		table.WithColumns(defaultColumns(80)),
		table.WithFocused(true),
		table.WithHeight(MinTableHeight),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color(ColorSelectedFg)).
		Background(lipgloss.Color(ColorSelectedBg)).
		Bold(false)
	t.SetStyles(styles)

	return &Model{
		mgr:          mgr,
		tunnelsTable: t,
	}
}

func defaultColumns(width int) []table.Column {
	// Fixed columns except EXTERNAL URL, which absorbs the slack.
	fixed := map[string]int{
		ColName:    14,
		ColStatus:  11,
		ColLocal:   6,
		ColGateway: 8,
		ColCPU:     6,
		ColMemory:  8,
	}
	total := 0
	for _, w := range fixed {
		total += w
	}
	external := width - total - 10
	if external < 12 {
		external = 12
	}

	return []table.Column{
		{Title: ColName, Width: fixed[ColName]},
		{Title: ColStatus, Width: fixed[ColStatus]},
		{Title: ColLocal, Width: fixed[ColLocal]},
		{Title: ColGateway, Width: fixed[ColGateway]},
		{Title: ColExternal, Width: external},
		{Title: ColCPU, Width: fixed[ColCPU]},
		{Title: ColMemory, Width: fixed[ColMemory]},
	}
}

// Init starts the refresh loop.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshSeconds*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshCmd pulls a fresh snapshot off the manager in the background.
func (m *Model) refreshCmd() tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tunnels, err := mgr.List(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		stats, err := mgr.Stats(ctx)
		if err != nil {
			return refreshMsg{tunnels: tunnels, err: err}
		}
		return refreshMsg{tunnels: tunnels, stats: stats}
	}
}

// applySnapshot rebuilds the table rows from a snapshot.
func (m *Model) applySnapshot(msg refreshMsg) {
	m.tunnels = msg.tunnels
	m.stats = msg.stats

	statsByName := make(map[string]manager.TunnelStats, len(msg.stats.Tunnels))
	for _, ts := range msg.stats.Tunnels {
		statsByName[ts.Name] = ts
	}

	rows := make([]table.Row, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		ts := statsByName[t.Name]
		external := t.ExternalURL
		if external == "" {
			external = "-"
		}
		rows = append(rows, table.Row{
			t.Name,
			string(t.Status),
			fmt.Sprintf(":%d", t.LocalPort),
			fmt.Sprintf(":%d", t.PublicPort),
			external,
			fmt.Sprintf("%.1f%%", ts.CPUPercent),
			humanize.IBytes(uint64(ts.MemoryMB * 1024 * 1024)),
		})
	}
	m.tunnelsTable.SetRows(rows)
}

// selectedTunnel returns the tunnel under the cursor.
func (m *Model) selectedTunnel() (registry.Tunnel, bool) {
	idx := m.tunnelsTable.Cursor()
	if idx < 0 || idx >= len(m.tunnels) {
		return registry.Tunnel{}, false
	}
	return m.tunnels[idx], true
}
