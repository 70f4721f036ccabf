package ui

// Table Column Titles
const (
	ColName     = "NAME"
	ColStatus   = "STATUS"
	ColLocal    = "LOCAL"
	ColGateway  = "GATEWAY"
	ColExternal = "EXTERNAL URL"
	ColCPU      = "CPU"
	ColMemory   = "MEM"
)

// Key hints shown under the table
const (
	ActionTunnelNav = "↑/↓: Navigate | s: Stop | r: Restart | c: Copy URL | l: Logs | q: Quit"
	ActionLogView   = "esc: Back | q: Quit"
)

// Lipgloss Colors
const (
	ColorBorder     = "240"
	ColorSelectedFg = "229"
	ColorSelectedBg = "57"
	ColorTitle      = "14"  // Cyan for titles
	ColorHelp       = "245" // Grey for help text
	ColorError      = "9"   // Red for errors
	ColorStatusOK   = "10"  // Green for status feedback
)

// Layout constants
const (
	MinTableHeight  = 4
	TableViewOffset = 7 // Non-table lines in the tunnels view for height calc
	LogPaneLines    = 20
)

// refreshSeconds is the dashboard polling interval.
const refreshSeconds = 2
