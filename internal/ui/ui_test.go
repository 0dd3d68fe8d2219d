package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/peercall/internal/negotiation"
	"github.com/BioHazard786/peercall/internal/protocol"
)

type fakeController struct {
	selected []string
	calls    int
	ends     int
	rosters  int
	callErr  error
}

func (c *fakeController) SelectDevice(id string) { c.selected = append(c.selected, id) }
func (c *fakeController) StartCall(context.Context) error {
	c.calls++
	return c.callErr
}
func (c *fakeController) EndCall() error                 { c.ends++; return nil }
func (c *fakeController) RequestRoster()                 { c.rosters++ }
func (c *fakeController) Snapshot() negotiation.Snapshot { return negotiation.Snapshot{} }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs any returned command synchronously.
func press(m *CallModel, s string) {
	_, cmd := m.Update(key(s))
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		m.Update(msg)
	}
}

var roster = []protocol.User{
	{ID: "u1", Role: "user", DeviceName: "Kitchen"},
	{ID: "u2", Role: "user", DeviceName: "Porch"},
}

func TestHostSelectsAndCalls(t *testing.T) {
	ctrl := &fakeController{}
	m := NewCallModel(ctrl, negotiation.Identity{ID: "h1", Role: "host", DeviceName: "Host"})
	m.Update(SnapshotMsg{Roster: roster})

	press(m, "down")
	press(m, "enter")
	assert.Equal(t, []string{"u2"}, ctrl.selected)

	press(m, "c")
	press(m, "r")
	press(m, "e")
	assert.Equal(t, 1, ctrl.calls)
	assert.Equal(t, 1, ctrl.rosters)
	assert.Equal(t, 1, ctrl.ends)
}

func TestUserCannotDriveRoster(t *testing.T) {
	ctrl := &fakeController{}
	m := NewCallModel(ctrl, negotiation.Identity{ID: "u1", Role: "user", DeviceName: "Cam"})
	m.Update(SnapshotMsg{Roster: roster})

	press(m, "enter")
	press(m, "c")
	assert.Empty(t, ctrl.selected)
	assert.Zero(t, ctrl.calls)
	assert.Contains(t, m.View(), "Waiting for the host")
	assert.NotContains(t, m.View(), "Kitchen")
}

func TestCallErrorShown(t *testing.T) {
	ctrl := &fakeController{callErr: errors.New("no device selected")}
	m := NewCallModel(ctrl, negotiation.Identity{ID: "h1", Role: "host", DeviceName: "Host"})

	press(m, "c")
	assert.Contains(t, m.View(), "no device selected")
}

func TestCursorClampedWhenRosterShrinks(t *testing.T) {
	m := NewCallModel(&fakeController{}, negotiation.Identity{ID: "h1", Role: "host"})
	m.Update(SnapshotMsg{Roster: roster})
	press(m, "down")
	require.Equal(t, 1, m.cursor)

	m.Update(SnapshotMsg{Roster: roster[:1]})
	assert.Equal(t, 0, m.cursor)
}

func TestStatusLine(t *testing.T) {
	m := NewCallModel(&fakeController{}, negotiation.Identity{ID: "h1", Role: "host", DeviceName: "Host"})
	m.Update(SnapshotMsg{
		Started:    true,
		Connection: webrtc.PeerConnectionStateConnected,
		Peer:       negotiation.PeerInfo{DeviceName: "Kitchen"},
	})
	assert.Contains(t, m.View(), "In call with Kitchen")

	m.Update(SnapshotMsg{Selected: []string{"u1"}})
	assert.Contains(t, m.View(), "press c to call")
}

func TestRosterTable(t *testing.T) {
	out := NewRosterTable(roster, []string{"u2"}, -1).View()
	assert.Contains(t, out, "Kitchen")
	assert.Contains(t, out, "Porch")
	assert.Contains(t, out, "●")

	assert.Contains(t, NewRosterTable(nil, nil, 0).View(), "No devices online")
}

func TestRelaySummary(t *testing.T) {
	var buf bytes.Buffer
	RenderRelaySummary(&buf, RelaySummary{Addr: ":3000", WSPath: "/ws", SendBuffer: 256, Metrics: true, Version: "dev"})

	out := buf.String()
	assert.Contains(t, out, ":3000")
	assert.Contains(t, out, "/metrics")
	assert.Contains(t, out, "unlimited")
}

func TestNotifyKeepsLatest(t *testing.T) {
	m := NewCallModel(&fakeController{}, negotiation.Identity{ID: "h1", Role: "host"})
	m.Notify(negotiation.Snapshot{Selected: []string{"old"}})
	m.Notify(negotiation.Snapshot{Selected: []string{"new"}})

	msg := m.listenForUpdates()()
	assert.Equal(t, []string{"new"}, msg.(SnapshotMsg).Selected)
}

func TestFailedConnectionOffersRestart(t *testing.T) {
	m := NewCallModel(&fakeController{}, negotiation.Identity{ID: "u1", Role: "user"})
	m.Update(SnapshotMsg{Started: true, Connection: webrtc.PeerConnectionStateFailed})
	assert.Contains(t, m.View(), "Connection failed, press e to restart")
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() { Output = prev })

	PrintSuccess("registered as %s (%s)", "Cam", "user")
	PrintError("relay url is required")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], IconSuccess)
	assert.Contains(t, lines[0], "registered as Cam (user)")
	assert.Contains(t, lines[1], IconError)
	assert.Contains(t, lines[1], "relay url is required")
}
