package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// fakeTransport records outgoing messages and applies the same stamping
// the real channel does. Two fakes can be paired to route messages to
// the other side's handler, standing in for the relay.
type fakeTransport struct {
	mu         sync.Mutex
	sessionID  domain.SessionID
	connected  bool
	sent       []domain.SignalMessage
	handler    func(domain.SignalMessage)
	peer       *fakeTransport
	hub        *fakeHub
	sendErr    error
	connectErr error
}

func newFakeTransport(sessionID domain.SessionID) *fakeTransport {
	return &fakeTransport{sessionID: sessionID}
}

func pairTransports(a, b *fakeTransport) {
	a.peer = b
	b.peer = a
}

func (t *fakeTransport) Connect(ctx context.Context, sessionID domain.SessionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.sessionID = sessionID
	t.connected = true
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, msg domain.SignalMessage) error {
	t.mu.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return err
	}
	msg.SessionID = t.sessionID
	if msg.TargetSessionID == "" {
		msg.TargetSessionID = t.sessionID
	}
	t.sent = append(t.sent, msg)
	peer := t.peer
	hub := t.hub
	t.mu.Unlock()

	// Deliver on a fresh goroutine, the way the real channel's read loop
	// does: a handler never synchronously re-enters its own negotiator.
	if hub != nil {
		hub.route(t, msg)
	} else if peer != nil {
		go peer.deliver(msg)
	}
	return nil
}

func (t *fakeTransport) deliver(msg domain.SignalMessage) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (t *fakeTransport) SetHandler(handler func(domain.SignalMessage)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.handler = nil
	return nil
}

func (t *fakeTransport) sentMessages() []domain.SignalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SignalMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeHub routes between its transports by targetSessionId, standing in
// for the relay daemon.
type fakeHub struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func newFakeHub() *fakeHub { return &fakeHub{} }

func (h *fakeHub) newTransport() *fakeTransport {
	t := &fakeTransport{hub: h}
	h.mu.Lock()
	h.transports = append(h.transports, t)
	h.mu.Unlock()
	return t
}

func (h *fakeHub) route(from *fakeTransport, msg domain.SignalMessage) {
	h.mu.Lock()
	var targets []*fakeTransport
	for _, tr := range h.transports {
		tr.mu.Lock()
		match := tr != from && tr.connected && tr.sessionID == msg.TargetSessionID
		tr.mu.Unlock()
		if match {
			targets = append(targets, tr)
		}
	}
	h.mu.Unlock()

	for _, tr := range targets {
		go tr.deliver(msg)
	}
}

// fakePeer is an in-memory port.PeerConnection.
type fakePeer struct {
	mu           sync.Mutex
	remoteSet    bool
	remoteCalls  int
	localCalls   int
	offerCalls   int
	restartCalls int
	answerCalls  int
	applied      []webrtc.ICECandidateInit
	candidateErr error
	senders      []port.Sender
	addTrackErr  error
	closed       bool

	onICE   func(webrtc.ICECandidateInit)
	onConn  func(domain.ConnectionState)
	onTrack func(port.RemoteTrack)
}

func newFakePeer() *fakePeer { return &fakePeer{} }

func (p *fakePeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerCalls++
	if iceRestart {
		p.restartCalls++
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer %d", p.offerCalls),
	}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answerCalls++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 answer %d", p.answerCalls),
	}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localCalls++
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteCalls++
	p.remoteSet = true
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSet
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidateErr != nil {
		return p.candidateErr
	}
	p.applied = append(p.applied, candidate)
	return nil
}

func (p *fakePeer) AddTrack(track port.LocalTrack) (port.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addTrackErr != nil {
		return nil, p.addTrackErr
	}
	s := fakeSender{id: track.ID()}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) Senders() []port.Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]port.Sender, len(p.senders))
	copy(out, p.senders)
	return out
}

func (p *fakePeer) OnICECandidate(handler func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = handler
}

func (p *fakePeer) OnConnectionStateChange(handler func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConn = handler
}

func (p *fakePeer) OnTrack(handler func(port.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireConnectionState(state domain.ConnectionState) {
	p.mu.Lock()
	h := p.onConn
	p.mu.Unlock()
	if h != nil {
		h(state)
	}
}

func (p *fakePeer) fireTrack(track port.RemoteTrack) {
	p.mu.Lock()
	h := p.onTrack
	p.mu.Unlock()
	if h != nil {
		h(track)
	}
}

func (p *fakePeer) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(p.applied))
	copy(out, p.applied)
	return out
}

type fakeSender struct {
	id string
}

func (s fakeSender) TrackID() string { return s.id }

type fakeTrack struct {
	id      string
	kind    port.TrackKind
	stopped bool
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() port.TrackKind { return t.kind }
func (t *fakeTrack) Stop() error {
	t.stopped = true
	return nil
}

type fakeRemoteTrack struct {
	id   string
	kind port.TrackKind
}

func (t fakeRemoteTrack) ID() string           { return t.id }
func (t fakeRemoteTrack) Kind() port.TrackKind { return t.kind }

// fakeMedia hands out fakeTracks, or fails acquisition.
type fakeMedia struct {
	mu         sync.Mutex
	failure    error
	acquired   [][]port.LocalTrack
	stopCalled int
}

func (m *fakeMedia) AcquireTracks(ctx context.Context, constraints port.TrackConstraints) ([]port.LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var tracks []port.LocalTrack
	if constraints.Video {
		tracks = append(tracks, &fakeTrack{id: fmt.Sprintf("cam-%d", len(m.acquired)), kind: port.TrackVideo})
	}
	if constraints.Audio {
		tracks = append(tracks, &fakeTrack{id: fmt.Sprintf("mic-%d", len(m.acquired)), kind: port.TrackAudio})
	}
	m.acquired = append(m.acquired, tracks)
	return tracks, nil
}

func (m *fakeMedia) StopTracks(tracks []port.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalled++
	for _, t := range tracks {
		t.Stop()
	}
}

// failingArchiver always errors; used to prove best-effort semantics.
type failingArchiver struct {
	mu    sync.Mutex
	calls int
}

var errArchiveDown = errors.New("archive backend down")

func (a *failingArchiver) ArchiveViolation(ctx context.Context, sessionID domain.SessionID, v domain.Violation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return errArchiveDown
}

func (a *failingArchiver) ArchiveEnd(ctx context.Context, s *domain.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return errArchiveDown
}
