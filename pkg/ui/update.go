package ui

import (
	"context"
	"fmt"
	"time"

	"wtunnel/pkg/logging"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles all dashboard messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tunnelsTable.SetColumns(defaultColumns(m.width))
		tableHeight := m.height - TableViewOffset
		if tableHeight < MinTableHeight {
			tableHeight = MinTableHeight
		}
		m.tunnelsTable.SetHeight(tableHeight)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
		} else {
			m.errorMsg = ""
		}
		m.applySnapshot(msg)
		if m.uiState == StateLogs {
			return m, m.logsCmd(m.logName)
		}
		return m, nil

	case opResultMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("%s %s: %v", msg.action, msg.name, msg.err)
			logging.LogError("Dashboard %s of %q failed: %v", msg.action, msg.name, msg.err)
		} else {
			m.statusMsg = fmt.Sprintf("%s %s: ok", msg.action, msg.name)
		}
		return m, m.refreshCmd()

	case logsMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			return m, nil
		}
		m.logName = msg.name
		m.logContent = msg.content
		return m, nil

	case tea.KeyMsg:
		if m.uiState == StateLogs {
			return m.updateLogView(msg)
		}
		return m.updateTunnels(msg)
	}

	return m, nil
}

// updateTunnels handles keys in the tunnel table view.
func (m *Model) updateTunnels(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "s":
		m.errorMsg = ""
		m.statusMsg = ""
		if t, ok := m.selectedTunnel(); ok {
			return m, m.stopCmd(t.Name)
		}
		return m, nil

	case "r":
		m.errorMsg = ""
		m.statusMsg = ""
		if t, ok := m.selectedTunnel(); ok {
			return m, m.restartCmd(t.Name)
		}
		return m, nil

	case "c":
		m.errorMsg = ""
		if t, ok := m.selectedTunnel(); ok {
			url := t.ExternalURL
			if url == "" {
				url = t.LoopbackURL()
			}
			if err := clipboard.WriteAll(url); err != nil {
				m.errorMsg = fmt.Sprintf("copy failed: %v", err)
			} else {
				m.statusMsg = fmt.Sprintf("copied %s", url)
			}
		}
		return m, nil

	case "l":
		if t, ok := m.selectedTunnel(); ok {
			m.uiState = StateLogs
			m.logName = t.Name
			m.logContent = "loading..."
			return m, m.logsCmd(t.Name)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.tunnelsTable, cmd = m.tunnelsTable.Update(msg)
	return m, cmd
}

// updateLogView handles keys in the log pane.
func (m *Model) updateLogView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "l":
		m.uiState = StateTunnels
		m.logContent = ""
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) stopCmd(name string) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return opResultMsg{action: "stop", name: name, err: mgr.Stop(ctx, name, false)}
	}
}

func (m *Model) restartCmd(name string) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_, err := mgr.Restart(ctx, name)
		return opResultMsg{action: "restart", name: name, err: err}
	}
}

func (m *Model) logsCmd(name string) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		content, err := mgr.Logs(name, LogPaneLines)
		return logsMsg{name: name, content: content, err: err}
	}
}
