package ui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/peercall/internal/protocol"
)

// RosterTable renders the host's view of registered devices.
type RosterTable struct {
	users    []protocol.User
	selected []string
	cursor   int
}

// NewRosterTable creates a roster table. cursor is the highlighted row, -1
// for none.
func NewRosterTable(users []protocol.User, selected []string, cursor int) *RosterTable {
	return &RosterTable{users: users, selected: selected, cursor: cursor}
}

// View renders the table as a string
func (t *RosterTable) View() string {
	if len(t.users) == 0 {
		return MutedStyle.Render("No devices online")
	}

	var rows [][]string
	for i, u := range t.users {
		mark := ""
		if slices.Contains(t.selected, u.ID) {
			mark = SelectedStyle.Render(IconSelected)
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), mark, truncate(u.DeviceName, 24), u.Role, shortID(u.ID)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers("#", "", "Device", "Role", "ID").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == t.cursor:
				return TableCursorStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
