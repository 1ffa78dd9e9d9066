package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// TransportFactory builds a fresh signaling channel for one session.
type TransportFactory func() port.SignalTransport

// PeerFactory builds a fresh platform peer connection.
type PeerFactory func() (port.PeerConnection, error)

// Monitor is the session-management layer: it wires the registry, local
// media, the signaling channel and a negotiator together for the
// publisher (student) and viewer (proctor) roles.
//
// One instance per process, constructed explicitly and injected.
type Monitor struct {
	registry     *SessionRegistry
	media        port.LocalMedia
	archiver     port.ViolationArchiver
	newTransport TransportFactory
	newPeer      PeerFactory
	negOpts      NegotiatorOptions
	log          zerolog.Logger

	mu   sync.Mutex
	live map[domain.SessionID]*publisherSession
}

type publisherSession struct {
	transport  port.SignalTransport
	negotiator *Negotiator
	bridge     *StreamBridge
	tracks     []port.LocalTrack
	offered    bool
}

func NewMonitor(
	registry *SessionRegistry,
	media port.LocalMedia,
	archiver port.ViolationArchiver,
	newTransport TransportFactory,
	newPeer PeerFactory,
	negOpts NegotiatorOptions,
	log zerolog.Logger,
) *Monitor {
	return &Monitor{
		registry:     registry,
		media:        media,
		archiver:     archiver,
		newTransport: newTransport,
		newPeer:      newPeer,
		negOpts:      negOpts,
		log:          log.With().Str("component", "monitor").Logger(),
		live:         make(map[domain.SessionID]*publisherSession),
	}
}

// StartPublisher starts (or resumes) the student side of a monitoring
// session: registry record, local capture, signaling channel, initial
// offer. When local capture fails the session record is discarded and
// domain.ErrMediaAcquisition is returned; there is no degraded
// no-media session. A failed connect leaves the session recoverable:
// calling StartPublisher again retries the channel without recreating
// the record.
func (m *Monitor) StartPublisher(ctx context.Context, examID domain.ExamID, participantID domain.ParticipantID, name string) (*domain.Session, error) {
	sess := m.registry.Start(examID, participantID, name)

	m.mu.Lock()
	ps, ok := m.live[sess.ID]
	m.mu.Unlock()

	if !ok {
		tracks, err := m.media.AcquireTracks(ctx, port.TrackConstraints{Video: true, Audio: true})
		if err != nil {
			if _, endErr := m.registry.End(sess.ID); endErr != nil {
				m.log.Warn().Err(endErr).Str("session_id", sess.ID.String()).Msg("Failed to discard session after capture failure")
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
		}

		pc, err := m.newPeer()
		if err != nil {
			m.media.StopTracks(tracks)
			if _, endErr := m.registry.End(sess.ID); endErr != nil {
				m.log.Warn().Err(endErr).Str("session_id", sess.ID.String()).Msg("Failed to discard session after peer failure")
			}
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		transport := m.newTransport()
		bridge := NewStreamBridge(pc, m.log)
		negotiator := NewNegotiator(domain.RoleOfferer, sess.ID, transport, pc, m.log, m.negOpts)
		transport.SetHandler(func(msg domain.SignalMessage) {
			negotiator.HandleSignal(context.Background(), msg)
		})

		if err := bridge.AttachLocal(tracks); err != nil {
			negotiator.Close()
			m.media.StopTracks(tracks)
			if _, endErr := m.registry.End(sess.ID); endErr != nil {
				m.log.Warn().Err(endErr).Str("session_id", sess.ID.String()).Msg("Failed to discard session after attach failure")
			}
			return nil, err
		}

		ps = &publisherSession{
			transport:  transport,
			negotiator: negotiator,
			bridge:     bridge,
			tracks:     tracks,
		}
		m.mu.Lock()
		m.live[sess.ID] = ps
		m.mu.Unlock()
	}

	if err := ps.transport.Connect(ctx, sess.ID); err != nil {
		// Session record stays; the caller retries StartPublisher.
		return sess, err
	}

	m.mu.Lock()
	offered := ps.offered
	ps.offered = true
	m.mu.Unlock()

	if !offered {
		if err := ps.negotiator.Offer(ctx); err != nil {
			m.mu.Lock()
			ps.offered = false
			m.mu.Unlock()
			return sess, err
		}
	}
	return sess, nil
}

// Bridge exposes the stream bridge of a live publisher session.
func (m *Monitor) Bridge(sessionID domain.SessionID) (*StreamBridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.live[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return ps.bridge, nil
}

// End tears the publisher session down synchronously: negotiation,
// channel and capture are released before the registry record is closed.
// The archive call afterwards is best effort.
func (m *Monitor) End(ctx context.Context, sessionID domain.SessionID) error {
	m.mu.Lock()
	ps, ok := m.live[sessionID]
	delete(m.live, sessionID)
	m.mu.Unlock()

	if ok {
		if err := ps.negotiator.Close(); err != nil {
			m.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to close negotiator")
		}
		if err := ps.transport.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to disconnect channel")
		}
		m.media.StopTracks(ps.tracks)
	}

	sess, err := m.registry.End(sessionID)
	if err != nil {
		return err
	}

	if m.archiver != nil {
		if err := m.archiver.ArchiveEnd(ctx, sess); err != nil {
			m.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to archive session end")
		}
	}
	return nil
}

// Viewer is the proctor side of one monitoring session: it answers the
// publisher's offer and surfaces the remote stream via its bridge.
type Viewer struct {
	transport  port.SignalTransport
	negotiator *Negotiator
	bridge     *StreamBridge
}

// StartViewer joins the session's signaling key as the answerer.
func (m *Monitor) StartViewer(ctx context.Context, sessionID domain.SessionID) (*Viewer, error) {
	pc, err := m.newPeer()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	transport := m.newTransport()
	bridge := NewStreamBridge(pc, m.log)
	negotiator := NewNegotiator(domain.RoleAnswerer, sessionID, transport, pc, m.log, m.negOpts)
	transport.SetHandler(func(msg domain.SignalMessage) {
		negotiator.HandleSignal(context.Background(), msg)
	})

	if err := transport.Connect(ctx, sessionID); err != nil {
		negotiator.Close()
		return nil, err
	}

	return &Viewer{transport: transport, negotiator: negotiator, bridge: bridge}, nil
}

// Bridge returns the viewer's stream bridge for remote-track
// subscriptions.
func (v *Viewer) Bridge() *StreamBridge {
	return v.bridge
}

// Close tears the viewer down.
func (v *Viewer) Close() error {
	err := v.negotiator.Close()
	if derr := v.transport.Disconnect(); err == nil {
		err = derr
	}
	return err
}
