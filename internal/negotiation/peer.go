package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/peercall/internal/signaling"
)

// PeerConnection is the subset of a WebRTC peer connection the negotiator
// drives. The pion adapter implements it; tests use a fake.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// RemoteTrack describes a track received from the peer.
type RemoteTrack struct {
	ID   string
	Kind string
	// Packets reports how many RTP packets have arrived so far.
	Packets func() uint64
}

// PeerInfo is what the remote side says about itself on the control channel.
type PeerInfo struct {
	DeviceName string
	Version    string
}

// PeerEvents are the callbacks a PeerConnection reports through.
type PeerEvents struct {
	OnICECandidate    func(webrtc.ICECandidateInit)
	OnTrack           func(RemoteTrack)
	OnConnectionState func(webrtc.PeerConnectionState)
	OnPeerInfo        func(PeerInfo)
}

// PeerFactory creates a fresh peer connection wired to ev.
type PeerFactory func(ev PeerEvents) (PeerConnection, error)

// Stream is an acquired set of local tracks.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// MediaSource acquires the local stream attached before offering or answering.
type MediaSource func(ctx context.Context) (Stream, error)

// Transport is the relay connection the negotiator sends through.
// *signaling.Transport implements it.
type Transport interface {
	Configure(signaling.Handlers)
	Connect() error
	Send(v any)
	Teardown()
}
