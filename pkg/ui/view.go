package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the current model state
func (m *Model) View() string {
	switch m.uiState {
	case StateTunnels:
		return m.viewTunnels()
	case StateLogs:
		return m.viewLogs()
	}
	return "Unknown state"
}

// viewTunnels renders the tunnel table view
func (m *Model) viewTunnels() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorTitle)).
		Bold(true).
		Render("Tunnels")

	summary := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorHelp)).
		Render(fmt.Sprintf("Total: %d | Active: %d | Dead: %d | CPU: %.1f%%",
			m.stats.Total, m.stats.Active, m.stats.Dead, m.stats.TotalCPU))

	tableView := m.tunnelsTable.View()

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorHelp)).
		Render(ActionTunnelNav)

	var sections []string
	sections = append(sections, title, summary, tableView, help)
	if m.errorMsg != "" {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)).
			Render("Error: "+m.errorMsg))
	} else if m.statusMsg != "" {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorStatusOK)).
			Render(m.statusMsg))
	}

	return strings.Join(sections, "\n") + "\n"
}

// viewLogs renders the log pane for the selected tunnel
func (m *Model) viewLogs() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorTitle)).
		Bold(true).
		Render(fmt.Sprintf("Logs: %s", m.logName))

	box := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Padding(0, 1).
		Width(max(m.width-4, 40))

	content := m.logContent
	if content == "" {
		content = "(empty)"
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorHelp)).
		Render(ActionLogView)

	return strings.Join([]string{title, box.Render(content), help}, "\n") + "\n"
}
