package negotiation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/peercall/internal/protocol"
	"github.com/BioHazard786/peercall/internal/signaling"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers signaling.Handlers
	sent     []protocol.Message
	connects int
	teardown int
	err      error
}

func (t *fakeTransport) Configure(h signaling.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.err
}

func (t *fakeTransport) Send(v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, v.(protocol.Message))
}

func (t *fakeTransport) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardown++
}

func (t *fakeTransport) messages() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Message(nil), t.sent...)
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

type fakePeer struct {
	ev PeerEvents

	calls      []string
	candidates []string
	tracks     []webrtc.TrackLocal
	closed     bool

	addCandidateErr error
	setRemoteErr    error
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.calls = append(p.calls, "create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.calls = append(p.calls, "create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.calls = append(p.calls, "set-local:"+sd.Type.String())
	return nil
}

func (p *fakePeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.calls = append(p.calls, "set-remote:"+sd.Type.String())
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.calls = append(p.calls, "add-candidate")
	p.candidates = append(p.candidates, c.Candidate)
	return p.addCandidateErr
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) error {
	p.calls = append(p.calls, "add-track")
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeStream struct {
	tracks []webrtc.TrackLocal
	closed bool
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }
func (s *fakeStream) Close() error                { s.closed = true; return nil }

type harness struct {
	n         *Negotiator
	transport *fakeTransport
	peers     []*fakePeer
	streams   []*fakeStream
}

func (h *harness) peer() *fakePeer { return h.peers[len(h.peers)-1] }

func newHarness(t *testing.T, self Identity) *harness {
	t.Helper()
	h := &harness{transport: &fakeTransport{}}

	factory := func(ev PeerEvents) (PeerConnection, error) {
		p := &fakePeer{ev: ev}
		h.peers = append(h.peers, p)
		return p, nil
	}
	source := func(context.Context) (Stream, error) {
		audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
		if err != nil {
			return nil, err
		}
		s := &fakeStream{tracks: []webrtc.TrackLocal{audio}}
		h.streams = append(h.streams, s)
		return s, nil
	}

	h.n = New(self, h.transport, factory, source, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, h.n.Start())
	t.Cleanup(func() { h.n.Close() })
	return h
}

var (
	host = Identity{ID: "h1", Role: protocol.RoleHost, DeviceName: "Host"}
	user = Identity{ID: "u1", Role: protocol.RoleUser, DeviceName: "default"}
)

func candidate(s string) protocol.Message {
	return protocol.Candidate(webrtc.ICECandidateInit{Candidate: s})
}

func offerFor(targets ...string) protocol.Message {
	return protocol.Offer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}, targets)
}

func answer() protocol.Message {
	return protocol.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
}

func TestOnOpenRegisters(t *testing.T) {
	h := newHarness(t, user)
	assert.Equal(t, 1, h.transport.connects)

	h.transport.handlers.OnOpen()
	assert.Equal(t, []protocol.Message{protocol.Register("u1", "user", "default")}, h.transport.messages())
}

func TestStartWithoutEndpointFails(t *testing.T) {
	tr := &fakeTransport{err: signaling.ErrNoEndpoint}
	n := New(user, tr, func(PeerEvents) (PeerConnection, error) { return &fakePeer{}, nil }, nil)
	assert.ErrorIs(t, n.Start(), signaling.ErrNoEndpoint)
}

func TestCandidatesBufferedUntilOffer(t *testing.T) {
	h := newHarness(t, user)

	require.NoError(t, h.n.HandleMessage(candidate("c1")))
	require.NoError(t, h.n.HandleMessage(candidate("c2")))
	assert.Empty(t, h.peer().candidates, "applied before remote description")
	assert.Equal(t, 2, h.n.Snapshot().Pending)

	require.NoError(t, h.n.HandleMessage(offerFor("u1")))

	p := h.peer()
	assert.Equal(t, []string{"c1", "c2"}, p.candidates, "drained in arrival order")
	assert.Equal(t, []string{
		"set-remote:offer", "add-track", "create-answer", "set-local:answer", "add-candidate", "add-candidate",
	}, p.calls)

	snap := h.n.Snapshot()
	assert.Zero(t, snap.Pending)
	assert.True(t, snap.Started)
	assert.Equal(t, StateStable, snap.State)

	sent := h.transport.messages()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Answer)
	assert.Equal(t, "answer-sdp", sent[0].Answer.SDP)

	// once the remote description exists candidates apply immediately
	require.NoError(t, h.n.HandleMessage(candidate("c3")))
	assert.Equal(t, []string{"c1", "c2", "c3"}, p.candidates)
}

func TestOfferForOtherDeviceIgnored(t *testing.T) {
	h := newHarness(t, user)

	require.NoError(t, h.n.HandleMessage(offerFor("u2", "u3")))
	require.NoError(t, h.n.HandleMessage(offerFor()))

	assert.Empty(t, h.peer().calls)
	assert.Empty(t, h.transport.messages())
	assert.False(t, h.n.Snapshot().Started)
}

func TestOfferOutsideStableIgnored(t *testing.T) {
	h := newHarness(t, host)
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))
	require.Equal(t, StateHaveLocalOffer, h.n.Snapshot().State)

	calls := len(h.peer().calls)
	require.NoError(t, h.n.HandleMessage(offerFor("h1")))
	assert.Len(t, h.peer().calls, calls, "offer in have-local-offer must have no side effects")
	assert.Equal(t, StateHaveLocalOffer, h.n.Snapshot().State)
}

func TestAnswerOnlyInHaveLocalOffer(t *testing.T) {
	h := newHarness(t, host)

	require.NoError(t, h.n.HandleMessage(answer()))
	assert.Empty(t, h.peer().calls, "answer in stable ignored")

	require.NoError(t, h.n.HandleMessage(candidate("early")))
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))
	require.NoError(t, h.n.HandleMessage(answer()))

	p := h.peer()
	assert.Equal(t, []string{
		"add-track", "create-offer", "set-local:offer", "set-remote:answer", "add-candidate",
	}, p.calls)
	assert.Equal(t, []string{"early"}, p.candidates)
	assert.Equal(t, StateStable, h.n.Snapshot().State)

	// a second answer finds the state stable again and is dropped
	require.NoError(t, h.n.HandleMessage(answer()))
	assert.Len(t, p.calls, 5)
}

func TestStartCallSendsTargetedOffer(t *testing.T) {
	h := newHarness(t, host)

	assert.ErrorIs(t, h.n.StartCall(context.Background()), ErrNoTarget)

	h.n.SelectDevice("u2")
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))

	sent := h.transport.messages()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Offer)
	assert.Equal(t, "offer-sdp", sent[0].Offer.SDP)
	assert.Equal(t, []string{"u1"}, sent[0].SelectedDeviceID)
	assert.Empty(t, sent[0].Type, "offer bodies carry no type")
	assert.True(t, h.n.Snapshot().Started)

	assert.ErrorIs(t, h.n.StartCall(context.Background()), ErrAlreadyStarted)
}

func TestStartCallRequiresHost(t *testing.T) {
	h := newHarness(t, user)
	h.n.SelectDevice("h1")
	assert.ErrorIs(t, h.n.StartCall(context.Background()), ErrNotHost)
}

func TestRosterFilteredForHostOnly(t *testing.T) {
	users := []protocol.User{
		{ID: "h1", Role: "host", DeviceName: "Host"},
		{ID: "u1", Role: "user", DeviceName: "default"},
	}
	roster := protocol.Message{Type: protocol.TypeResListUser, Users: users}

	h := newHarness(t, host)
	require.NoError(t, h.n.HandleMessage(roster))
	assert.Equal(t, users[1:], h.n.Snapshot().Roster)

	u := newHarness(t, user)
	require.NoError(t, u.n.HandleMessage(roster))
	assert.Empty(t, u.n.Snapshot().Roster)
}

func TestICEFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, user)
	require.NoError(t, h.n.HandleMessage(offerFor("u1")))
	h.peer().addCandidateErr = errors.New("bad candidate")

	require.NoError(t, h.n.HandleMessage(candidate("c1")))
	require.NoError(t, h.n.HandleMessage(candidate("c2")))
	assert.Equal(t, []string{"c1", "c2"}, h.peer().candidates)
	assert.True(t, h.n.Snapshot().Started)
}

func TestSetRemoteFailureKeepsState(t *testing.T) {
	h := newHarness(t, user)
	h.peer().setRemoteErr = errors.New("bad sdp")

	err := h.n.HandleMessage(offerFor("u1"))
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "set remote description", nerr.Op)

	require.NoError(t, h.n.HandleMessage(candidate("c1")))
	assert.Equal(t, 1, h.n.Snapshot().Pending, "still waiting for a remote description")
}

func TestRestartResetsEverything(t *testing.T) {
	h := newHarness(t, host)
	require.NoError(t, h.n.HandleMessage(protocol.Message{Type: protocol.TypeResListUser, Users: []protocol.User{{ID: "u1", Role: "user"}}}))
	require.NoError(t, h.n.HandleMessage(candidate("stale")))
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))
	first := h.peer()

	require.NoError(t, h.n.HandleMessage(protocol.Restart()))

	assert.True(t, first.closed)
	assert.True(t, h.streams[0].closed)
	assert.Len(t, h.peers, 2, "a fresh peer connection replaces the old one")
	assert.Equal(t, 2, h.transport.connects)
	assert.Equal(t, Snapshot{State: StateStable, Connection: webrtc.PeerConnectionStateNew}, h.n.Snapshot())

	// the new connection starts from stable with an empty buffer
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))
	assert.Equal(t, StateHaveLocalOffer, h.n.Snapshot().State)
}

func TestEndCallBroadcastsRestart(t *testing.T) {
	h := newHarness(t, host)
	h.n.SelectDevice("u1")
	require.NoError(t, h.n.StartCall(context.Background()))
	h.transport.reset()

	require.NoError(t, h.n.EndCall())

	assert.Equal(t, []protocol.Message{protocol.Restart()}, h.transport.messages())
	assert.False(t, h.n.Snapshot().Started)
	assert.Equal(t, 2, h.transport.connects)
}

func TestRequestRoster(t *testing.T) {
	h := newHarness(t, host)
	h.n.RequestRoster()
	assert.Equal(t, []protocol.Message{protocol.ListUsers()}, h.transport.messages())
}

func TestLocalCandidatesTrickled(t *testing.T) {
	h := newHarness(t, user)
	h.peer().ev.OnICECandidate(webrtc.ICECandidateInit{Candidate: "local"})

	sent := h.transport.messages()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Candidate)
	assert.Equal(t, "local", sent[0].Candidate.Candidate)
}

func TestStaleEventsIgnored(t *testing.T) {
	h := newHarness(t, user)
	old := h.peer()
	require.NoError(t, h.n.Restart())

	old.ev.OnConnectionState(webrtc.PeerConnectionStateConnected)
	old.ev.OnPeerInfo(PeerInfo{DeviceName: "ghost"})
	assert.Equal(t, webrtc.PeerConnectionStateNew, h.n.Snapshot().Connection)

	h.peer().ev.OnPeerInfo(PeerInfo{DeviceName: "Host", Version: "dev"})
	h.peer().ev.OnTrack(RemoteTrack{ID: "video", Kind: "video", Packets: func() uint64 { return 0 }})
	snap := h.n.Snapshot()
	assert.Equal(t, "Host", snap.Peer.DeviceName)
	require.Len(t, snap.Tracks, 1)
	assert.Equal(t, "video", snap.Tracks[0].Kind)
}

func TestObserverSeesChanges(t *testing.T) {
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	tr := &fakeTransport{}
	n := New(host, tr,
		func(PeerEvents) (PeerConnection, error) { return &fakePeer{}, nil },
		nil,
		WithObserver(func(s Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		}),
	)
	require.NoError(t, n.Start())
	n.SelectDevice("u1")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	assert.Equal(t, []string{"u1"}, snaps[len(snaps)-1].Selected)
}

func TestClosedNegotiator(t *testing.T) {
	h := newHarness(t, host)
	require.NoError(t, h.n.Close())

	assert.Equal(t, 1, h.transport.teardown)
	assert.True(t, h.peer().closed)
	assert.ErrorIs(t, h.n.Close(), ErrClosed)
	assert.ErrorIs(t, h.n.HandleMessage(candidate("c")), ErrClosed)
	assert.ErrorIs(t, h.n.Restart(), ErrClosed)
	assert.Equal(t, StateClosed, h.n.Snapshot().State)
}
