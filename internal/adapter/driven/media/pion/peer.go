package pion

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// DefaultConfiguration is the stock ICE setup used when the deployment
// does not supply its own TURN/STUN servers.
func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// PeerConnection binds port.PeerConnection to pion.
type PeerConnection struct {
	pc *webrtc.PeerConnection
}

var _ port.PeerConnection = (*PeerConnection)(nil)

func NewPeerConnection(cfg webrtc.Configuration) (*PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &PeerConnection{pc: pc}, nil
}

func (p *PeerConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return p.pc.CreateOffer(opts)
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *PeerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// rtcTrackCarrier is satisfied by this package's local tracks.
type rtcTrackCarrier interface {
	rtcTrack() webrtc.TrackLocal
}

func (p *PeerConnection) AddTrack(track port.LocalTrack) (port.Sender, error) {
	carrier, ok := track.(rtcTrackCarrier)
	if !ok {
		return nil, errors.New("track does not carry a pion TrackLocal")
	}
	s, err := p.pc.AddTrack(carrier.rtcTrack())
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return &sender{s: s}, nil
}

func (p *PeerConnection) Senders() []port.Sender {
	rtpSenders := p.pc.GetSenders()
	out := make([]port.Sender, 0, len(rtpSenders))
	for _, s := range rtpSenders {
		out = append(out, &sender{s: s})
	}
	return out
}

func (p *PeerConnection) OnICECandidate(handler func(candidate webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		handler(c.ToJSON())
	})
}

func (p *PeerConnection) OnConnectionStateChange(handler func(state domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		handler(mapConnectionState(state))
	})
}

func (p *PeerConnection) OnTrack(handler func(track port.RemoteTrack)) {
	p.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		handler(&remoteTrack{tr: tr})
	})
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionFailed
	default:
		return domain.ConnectionClosed
	}
}

type sender struct {
	s *webrtc.RTPSender
}

func (s *sender) TrackID() string {
	t := s.s.Track()
	if t == nil {
		return ""
	}
	return t.ID()
}

type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string {
	return t.tr.ID()
}

func (t *remoteTrack) Kind() port.TrackKind {
	if t.tr.Kind() == webrtc.RTPCodecTypeAudio {
		return port.TrackAudio
	}
	return port.TrackVideo
}
