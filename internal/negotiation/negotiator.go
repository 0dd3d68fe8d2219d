package negotiation

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/peercall/internal/protocol"
	"github.com/BioHazard786/peercall/internal/signaling"
)

// Identity is how this client announces itself to the relay.
type Identity struct {
	ID         string
	Role       string
	DeviceName string
}

// Snapshot is a copy of the negotiator's observable state.
type Snapshot struct {
	State      SignalingState
	Started    bool
	Roster     []protocol.User
	Selected   []string
	Pending    int
	Connection webrtc.PeerConnectionState
	Peer       PeerInfo
	Tracks     []RemoteTrack
}

// Option customises a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the negotiator logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Negotiator) {
		if l != nil {
			n.log = l
		}
	}
}

// WithObserver calls fn with a fresh Snapshot after every state change.
// fn runs without the negotiator lock held.
func WithObserver(fn func(Snapshot)) Option {
	return func(n *Negotiator) { n.observer = fn }
}

// Negotiator drives one peer connection through offer, answer and ICE
// candidate exchange over a relay transport.
//
// All handlers are serialized by one mutex, mirroring the single event loop
// a browser tab runs them on. Remote candidates that arrive before a remote
// description is committed are queued and applied in arrival order once it is.
type Negotiator struct {
	self      Identity
	transport Transport
	newPeer   PeerFactory
	media     MediaSource
	observer  func(Snapshot)
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pc         PeerConnection
	peerGen    uint64
	stream     Stream
	state      SignalingState
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	started    bool
	roster     []protocol.User
	selected   []string
	connection webrtc.PeerConnectionState
	peer       PeerInfo
	tracks     []RemoteTrack
	closed     bool
}

// New returns a negotiator for self. Call Start to connect.
func New(self Identity, transport Transport, newPeer PeerFactory, media MediaSource, opts ...Option) *Negotiator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Negotiator{
		self:      self,
		transport: transport,
		newPeer:   newPeer,
		media:     media,
		log:       slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With("component", "negotiation", "role", self.Role)
	return n
}

// Start creates the peer connection and connects the transport. A missing
// relay endpoint is returned here rather than retried.
func (n *Negotiator) Start() error {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if err := n.resetLocked(); err != nil {
		return err
	}

	n.transport.Configure(signaling.Handlers{
		OnOpen:    n.OnOpen,
		OnMessage: n.onMessage,
	})
	return n.transport.Connect()
}

// OnOpen registers with the relay. The transport calls it on every open.
func (n *Negotiator) OnOpen() {
	n.transport.Send(protocol.Register(n.self.ID, n.self.Role, n.self.DeviceName))
}

func (n *Negotiator) onMessage(msg protocol.Message) {
	if err := n.HandleMessage(msg); err != nil {
		n.log.Warn("signal handling failed", "err", err)
	}
}

// HandleMessage applies one parsed relay message.
func (n *Negotiator) HandleMessage(msg protocol.Message) error {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.pc == nil {
		return ErrNotStarted
	}

	switch {
	case msg.Type == protocol.TypeRestart:
		n.log.Info("restart requested by peer")
		return n.restartLocked()
	case msg.Type == protocol.TypeResListUser:
		n.updateRosterLocked(msg.Users)
		return nil
	case msg.Type == protocol.TypePong:
		return nil
	case msg.Offer != nil:
		return n.handleOfferLocked(msg)
	case msg.Answer != nil:
		return n.handleAnswerLocked(*msg.Answer)
	case msg.Candidate != nil:
		n.handleCandidateLocked(*msg.Candidate)
		return nil
	default:
		n.log.Debug("message ignored", "type", msg.Type)
		return nil
	}
}

func (n *Negotiator) updateRosterLocked(users []protocol.User) {
	if n.self.Role != protocol.RoleHost {
		return
	}
	roster := make([]protocol.User, 0, len(users))
	for _, u := range users {
		if u.ID != n.self.ID {
			roster = append(roster, u)
		}
	}
	n.roster = roster
}

func (n *Negotiator) handleOfferLocked(msg protocol.Message) error {
	if !slices.Contains(msg.SelectedDeviceID, n.self.ID) {
		n.log.Debug("offer for another device ignored", "targets", msg.SelectedDeviceID)
		return nil
	}
	if n.state != StateStable {
		n.log.Debug("offer ignored", "state", n.state)
		return nil
	}

	if err := n.pc.SetRemoteDescription(*msg.Offer); err != nil {
		return newError("set remote description", err)
	}
	n.state = StateHaveRemoteOffer
	n.remoteSet = true

	if err := n.attachMediaLocked(n.ctx); err != nil {
		return err
	}

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return newError("create answer", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return newError("set local description", err)
	}
	n.state = StateStable

	n.transport.Send(protocol.Answer(answer))
	n.drainLocked()
	n.started = true
	n.log.Info("answered offer")
	return nil
}

func (n *Negotiator) handleAnswerLocked(answer webrtc.SessionDescription) error {
	if n.state != StateHaveLocalOffer {
		n.log.Debug("answer ignored", "state", n.state)
		return nil
	}

	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return newError("set remote description", err)
	}
	n.state = StateStable
	n.remoteSet = true
	n.drainLocked()
	n.log.Info("answer applied")
	return nil
}

func (n *Negotiator) handleCandidateLocked(c webrtc.ICECandidateInit) {
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		n.log.Debug("candidate buffered", "pending", len(n.pending))
		return
	}
	n.addCandidateLocked(c)
}

// drainLocked applies every buffered candidate in arrival order.
func (n *Negotiator) drainLocked() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.addCandidateLocked(c)
	}
}

func (n *Negotiator) addCandidateLocked(c webrtc.ICECandidateInit) {
	if err := n.pc.AddICECandidate(c); err != nil {
		n.log.Warn("add ICE candidate", "err", err, "candidate", c.Candidate)
	}
}

// attachMediaLocked acquires the local stream once per peer connection.
func (n *Negotiator) attachMediaLocked(ctx context.Context) error {
	if n.stream != nil || n.media == nil {
		return nil
	}
	stream, err := n.media(ctx)
	if err != nil {
		return newError("acquire media", err)
	}
	for _, track := range stream.Tracks() {
		if err := n.pc.AddTrack(track); err != nil {
			stream.Close()
			return wrapError("add track", err, track.Kind().String())
		}
	}
	n.stream = stream
	return nil
}

// SelectDevice makes id the single call target. An empty id clears it.
func (n *Negotiator) SelectDevice(id string) {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	if id == "" {
		n.selected = nil
		return
	}
	n.selected = []string{id}
}

// StartCall attaches local media and sends an offer to the selected device.
func (n *Negotiator) StartCall(ctx context.Context) error {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.closed:
		return ErrClosed
	case n.pc == nil:
		return ErrNotStarted
	case n.self.Role != protocol.RoleHost:
		return ErrNotHost
	case len(n.selected) == 0:
		return ErrNoTarget
	case n.started || n.state != StateStable:
		return ErrAlreadyStarted
	}

	if err := n.attachMediaLocked(ctx); err != nil {
		return err
	}

	offer, err := n.pc.CreateOffer()
	if err != nil {
		return newError("create offer", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return newError("set local description", err)
	}
	n.state = StateHaveLocalOffer

	n.transport.Send(protocol.Offer(offer, slices.Clone(n.selected)))
	n.started = true
	n.log.Info("offer sent", "targets", n.selected)
	return nil
}

// EndCall tells every peer to restart, then restarts this side too. The
// relay never echoes a message back to its sender.
func (n *Negotiator) EndCall() error {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	n.transport.Send(protocol.Restart())
	return n.restartLocked()
}

// RequestRoster asks the relay for the current roster.
func (n *Negotiator) RequestRoster() {
	n.transport.Send(protocol.ListUsers())
}

// Restart discards all negotiation state, builds a new peer connection and
// reconnects the transport from scratch.
func (n *Negotiator) Restart() error {
	defer n.notify()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	return n.restartLocked()
}

func (n *Negotiator) restartLocked() error {
	if err := n.resetLocked(); err != nil {
		return err
	}
	return n.transport.Connect()
}

// resetLocked replaces the peer connection and clears all local state.
func (n *Negotiator) resetLocked() error {
	n.releaseLocked()

	n.state = StateStable
	n.remoteSet = false
	n.pending = nil
	n.started = false
	n.roster = nil
	n.selected = nil
	n.connection = webrtc.PeerConnectionStateNew
	n.peer = PeerInfo{}
	n.tracks = nil

	n.peerGen++
	pc, err := n.newPeer(n.peerEvents(n.peerGen))
	if err != nil {
		return newError("create peer connection", err)
	}
	n.pc = pc
	return nil
}

func (n *Negotiator) releaseLocked() {
	if n.stream != nil {
		n.stream.Close()
		n.stream = nil
	}
	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			n.log.Debug("close peer connection", "err", err)
		}
		n.pc = nil
	}
}

// peerEvents returns callbacks for the peer connection of generation gen.
// Events from a connection that has since been replaced are ignored.
func (n *Negotiator) peerEvents(gen uint64) PeerEvents {
	return PeerEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			// local candidates are trickled immediately
			n.transport.Send(protocol.Candidate(c))
		},
		OnTrack: func(t RemoteTrack) {
			n.log.Info("remote track", "kind", t.Kind, "id", t.ID)
			n.update(gen, func() { n.tracks = append(n.tracks, t) })
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			n.log.Info("peer connection state", "state", s.String())
			n.update(gen, func() { n.connection = s })
		},
		OnPeerInfo: func(p PeerInfo) {
			n.update(gen, func() { n.peer = p })
		},
	}
}

// update runs fn under the lock if gen is still the live peer connection,
// then notifies the observer.
func (n *Negotiator) update(gen uint64, fn func()) {
	n.mu.Lock()
	ok := !n.closed && gen == n.peerGen
	if ok {
		fn()
	}
	n.mu.Unlock()
	if ok {
		n.notify()
	}
}

// Snapshot returns a copy of the current state.
func (n *Negotiator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

func (n *Negotiator) snapshotLocked() Snapshot {
	return Snapshot{
		State:      n.state,
		Started:    n.started,
		Roster:     slices.Clone(n.roster),
		Selected:   slices.Clone(n.selected),
		Pending:    len(n.pending),
		Connection: n.connection,
		Peer:       n.peer,
		Tracks:     slices.Clone(n.tracks),
	}
}

func (n *Negotiator) notify() {
	if n.observer == nil {
		return
	}
	n.observer(n.Snapshot())
}

// Close tears down the transport and the peer connection. Later calls
// return ErrClosed.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	n.closed = true
	n.cancel()
	n.transport.Teardown()
	n.releaseLocked()
	n.state = StateClosed
	return nil
}
