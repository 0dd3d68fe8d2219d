package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#22d3ee")
	green  = lipgloss.Color("#10B981")
	amber  = lipgloss.Color("#F59E0B")
	red    = lipgloss.Color("#EF4444")
	gray   = lipgloss.Color("#6B7280")
	light  = lipgloss.Color("#F9FAFB")
	panel  = lipgloss.Color("#1F2937")
)

// Status line and message styles.
var (
	SuccessStyle  = lipgloss.NewStyle().Foreground(green).Bold(true)
	ErrorStyle    = lipgloss.NewStyle().Foreground(red).Bold(true)
	WarningStyle  = lipgloss.NewStyle().Foreground(amber)
	MutedStyle    = lipgloss.NewStyle().Foreground(gray)
	StatusStyle   = lipgloss.NewStyle().Foreground(light).Background(accent).Padding(0, 1).Bold(true)
	SelectedStyle = lipgloss.NewStyle().Foreground(green).Bold(true)
)

// Roster table styles.
var (
	rosterCell = lipgloss.NewStyle().Padding(0, 1)

	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Align(lipgloss.Center)
	TableRowStyle    = rosterCell.Foreground(lipgloss.Color("255"))
	TableRowAltStyle = rosterCell.Foreground(lipgloss.Color("245"))
	TableCursorStyle = rosterCell.Foreground(accent).Bold(true)
	tableBorderStyle = lipgloss.NewStyle().Foreground(accent)
)

// Call view frame.
var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).Background(panel).Padding(0, 2).MarginBottom(1)
	FooterStyle  = lipgloss.NewStyle().Foreground(gray).MarginTop(1)
	SpinnerStyle = lipgloss.NewStyle().Foreground(accent)
)

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconPeer     = "👤"
	IconHost     = "🎙️"
	IconConnect  = "🔌"
	IconCall     = "📞"
	IconRelay    = "📡"
	IconSelected = "●"
)

// Output is where PrintError and PrintSuccess write.
var Output io.Writer = os.Stdout

// PrintError reports a fatal command error.
func PrintError(msg string) {
	fmt.Fprintf(Output, "%s %s\n", IconError, ErrorStyle.Render(msg))
}

// PrintSuccess reports a completed step, such as a headless client coming up.
func PrintSuccess(format string, args ...any) {
	fmt.Fprintf(Output, "%s %s\n", SuccessStyle.Render(IconSuccess), fmt.Sprintf(format, args...))
}
