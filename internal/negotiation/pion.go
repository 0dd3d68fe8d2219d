package negotiation

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	pliInterval = 3 * time.Second
	rtpBufSize  = 1500
)

// PionConfig configures peer connections built by NewPionFactory.
type PionConfig struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	// Self is announced to the peer on the control channel.
	Self PeerInfo

	LoggerFactory logging.LoggerFactory
	Logger        *slog.Logger
}

func (c PionConfig) configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(c.TURNServers) > 0 && c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{ICEServers: servers, ICETransportPolicy: policy}
}

// NewPionFactory returns a PeerFactory backed by pion/webrtc with the default
// codecs and interceptors.
func NewPionFactory(cfg PionConfig) PeerFactory {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "peer")

	return func(ev PeerEvents) (PeerConnection, error) {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, newError("register codecs", err)
		}
		registry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
			return nil, newError("register interceptors", err)
		}
		settings := webrtc.SettingEngine{}
		if cfg.LoggerFactory != nil {
			settings.LoggerFactory = cfg.LoggerFactory
		}

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settings),
		)
		pc, err := api.NewPeerConnection(cfg.configuration())
		if err != nil {
			return nil, newError("create peer connection", err)
		}

		p := &pionPeer{pc: pc, ev: ev, self: cfg.Self, log: log}
		p.wire()
		return p, nil
	}
}

// pionPeer adapts *webrtc.PeerConnection to PeerConnection.
type pionPeer struct {
	pc      *webrtc.PeerConnection
	ev      PeerEvents
	self    PeerInfo
	control *webrtc.DataChannel
	closed  atomic.Bool
	log     *slog.Logger
}

func (p *pionPeer) wire() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.ev.OnICECandidate == nil {
			return
		}
		p.ev.OnICECandidate(c.ToJSON())
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			p.log.Warn("peer connection failed, waiting for restart")
		}
		if p.ev.OnConnectionState != nil {
			p.ev.OnConnectionState(s)
		}
	})

	p.pc.OnTrack(p.onTrack)

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == controlLabel {
			p.bindControl(dc)
		}
	})
}

func (p *pionPeer) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	var packets atomic.Uint64
	if p.ev.OnTrack != nil {
		p.ev.OnTrack(RemoteTrack{
			ID:      track.ID(),
			Kind:    track.Kind().String(),
			Packets: packets.Load,
		})
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.requestKeyframes(track.SSRC())
	}

	buf := make([]byte, rtpBufSize)
	var pkt rtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.closed.Load() {
				p.log.Debug("remote track ended", "kind", track.Kind().String(), "err", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		packets.Add(1)
	}
}

// requestKeyframes sends a PLI periodically so the sender emits keyframes.
func (p *pionPeer) requestKeyframes(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		if p.closed.Load() {
			return
		}
		err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
		if err != nil {
			return
		}
	}
}

func (p *pionPeer) bindControl(dc *webrtc.DataChannel) {
	p.control = dc

	dc.OnOpen(func() {
		data, err := encodeDeviceInfo(p.self)
		if err != nil {
			p.log.Error("encode device info", "err", err)
			return
		}
		if err := dc.Send(data); err != nil {
			p.log.Debug("send device info", "err", err)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		info, ok, err := decodeControl(msg.Data)
		if err != nil {
			p.log.Debug("control message dropped", "err", err)
			return
		}
		if ok && p.ev.OnPeerInfo != nil {
			p.ev.OnPeerInfo(info)
		}
	})
}

// CreateOffer opens the control channel before the first offer so it is
// part of the negotiated session.
func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.control == nil {
		ordered := true
		dc, err := p.pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
		p.bindControl(dc)
	}
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sd)
}

func (p *pionPeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// AddTrack attaches track and drains its RTCP so interceptors keep working.
func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, rtpBufSize)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.pc.Close()
}
