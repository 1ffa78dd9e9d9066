package pion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/examwatch/examwatch/internal/core/port"
)

// StaticMedia is a port.LocalMedia backed by pion static sample tracks.
// The capture pipeline that feeds the tracks (camera, screen grab) is a
// platform concern; this adapter only owns the track objects handed to
// the peer connection.
type StaticMedia struct{}

var _ port.LocalMedia = (*StaticMedia)(nil)

func NewStaticMedia() *StaticMedia {
	return &StaticMedia{}
}

func (m *StaticMedia) AcquireTracks(ctx context.Context, constraints port.TrackConstraints) ([]port.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []port.LocalTrack
	if constraints.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"camera-"+uuid.NewString(),
			"examwatch",
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, &localTrack{track: t, kind: port.TrackVideo})
	}
	if constraints.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"mic-"+uuid.NewString(),
			"examwatch",
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		tracks = append(tracks, &localTrack{track: t, kind: port.TrackAudio})
	}
	return tracks, nil
}

func (m *StaticMedia) StopTracks(tracks []port.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

type localTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    port.TrackKind
	stopped bool
}

func (t *localTrack) ID() string           { return t.track.ID() }
func (t *localTrack) Kind() port.TrackKind { return t.kind }

func (t *localTrack) Stop() error {
	t.stopped = true
	return nil
}

// Sample returns the track for the capture pipeline to write into.
func (t *localTrack) Sample() *webrtc.TrackLocalStaticSample {
	return t.track
}

func (t *localTrack) rtcTrack() webrtc.TrackLocal {
	return t.track
}
