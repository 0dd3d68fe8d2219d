package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/peercall/internal/negotiation"
	"github.com/BioHazard786/peercall/internal/protocol"
)

// Controller is the negotiator surface the call view drives.
type Controller interface {
	SelectDevice(id string)
	StartCall(ctx context.Context) error
	EndCall() error
	RequestRoster()
	Snapshot() negotiation.Snapshot
}

// SnapshotMsg carries a negotiator state change into the program.
type SnapshotMsg negotiation.Snapshot

// errMsg reports a failed intent.
type errMsg struct{ err error }

// CallModel is the interactive view for both roles. The host gets the
// roster and call controls; a user only sees call status.
type CallModel struct {
	ctrl    Controller
	self    negotiation.Identity
	snap    negotiation.Snapshot
	cursor  int
	spinner spinner.Model
	err     error
	updates chan negotiation.Snapshot

	quitting bool
}

// NewCallModel creates the view for self.
func NewCallModel(ctrl Controller, self negotiation.Identity) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:    ctrl,
		self:    self,
		snap:    ctrl.Snapshot(),
		spinner: s,
		updates: make(chan negotiation.Snapshot, 1),
	}
}

// Notify queues s for the view without blocking. Only the latest pending
// snapshot is kept.
func (m *CallModel) Notify(s negotiation.Snapshot) {
	for {
		select {
		case m.updates <- s:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func (m *CallModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return SnapshotMsg(<-m.updates)
	}
}

func (m *CallModel) isHost() bool { return m.self.Role == protocol.RoleHost }

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		m.snap = negotiation.Snapshot(msg)
		if m.cursor >= len(m.snap.Roster) {
			m.cursor = max(0, len(m.snap.Roster)-1)
		}
		return m, m.listenForUpdates()

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "e":
		m.err = nil
		return m, m.run(m.ctrl.EndCall)
	}

	if !m.isHost() {
		return m, nil
	}

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Roster)-1 {
			m.cursor++
		}
	case "enter", " ":
		if m.cursor < len(m.snap.Roster) {
			m.ctrl.SelectDevice(m.snap.Roster[m.cursor].ID)
		}
	case "r":
		m.ctrl.RequestRoster()
	case "c":
		m.err = nil
		return m, m.run(func() error { return m.ctrl.StartCall(context.Background()) })
	}
	return m, nil
}

// run performs a blocking intent off the update loop.
func (m *CallModel) run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	icon := IconPeer
	if m.isHost() {
		icon = IconHost
	}
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s (%s)", icon, m.self.DeviceName, m.self.Role)))
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.isHost() {
		b.WriteString(NewRosterTable(m.snap.Roster, m.snap.Selected, m.cursor).View())
		b.WriteString("\n")
	}

	if len(m.snap.Tracks) > 0 {
		b.WriteString("\n")
		for _, t := range m.snap.Tracks {
			var packets uint64
			if t.Packets != nil {
				packets = t.Packets()
			}
			b.WriteString(MutedStyle.Render(fmt.Sprintf("  %s track: %d packets", t.Kind, packets)))
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n" + ErrorStyle.Render(IconError+" "+m.err.Error()) + "\n")
	}

	help := "e restart • q quit"
	if m.isHost() {
		help = "↑/↓ move • enter select • c call • e end call • r refresh • q quit"
	}
	b.WriteString(FooterStyle.Render(help))
	return b.String()
}

func (m *CallModel) statusLine() string {
	s := m.snap
	switch {
	case s.Connection == webrtc.PeerConnectionStateConnected:
		peer := s.Peer.DeviceName
		if peer == "" {
			peer = "peer"
		}
		return SuccessStyle.Render(fmt.Sprintf("%s In call with %s", IconCall, peer))
	case s.Connection == webrtc.PeerConnectionStateFailed:
		return WarningStyle.Render(IconWarning + " Connection failed, press e to restart")
	case s.Started:
		return fmt.Sprintf("%s Connecting (%s)", m.spinner.View(), s.State)
	case m.isHost() && len(s.Selected) > 0:
		return StatusStyle.Render("Ready") + " press c to call"
	case m.isHost():
		return fmt.Sprintf("%s Waiting for devices", m.spinner.View())
	default:
		return fmt.Sprintf("%s Waiting for the host to call", m.spinner.View())
	}
}
