package port

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/examwatch/examwatch/internal/core/domain"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// LocalTrack is an outbound capture track (camera or microphone).
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Stop() error
}

// RemoteTrack is an inbound track surfaced by the peer connection.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// Sender is an outbound track slot on the peer connection; used to
// detect already-attached tracks.
type Sender interface {
	TrackID() string
}

// PeerConnection is the platform WebRTC capability the core drives but
// does not implement. The pion adapter binds it; tests fake it.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track LocalTrack) (Sender, error)
	Senders() []Sender

	OnICECandidate(handler func(candidate webrtc.ICECandidateInit))
	OnConnectionStateChange(handler func(state domain.ConnectionState))
	OnTrack(handler func(track RemoteTrack))

	Close() error
}

// TrackConstraints narrows what LocalMedia should acquire.
type TrackConstraints struct {
	Video bool
	Audio bool
}

// LocalMedia acquires capture tracks from the platform.
type LocalMedia interface {
	AcquireTracks(ctx context.Context, constraints TrackConstraints) ([]LocalTrack, error)
	StopTracks(tracks []LocalTrack)
}
