package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/examwatch/examwatch/internal/adapter/driven/persistence/memory"
	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

func TestStartPublisherFailsWithoutMedia(t *testing.T) {
	registry := NewSessionRegistry(testLogger())
	media := &fakeMedia{failure: errors.New("camera busy")}
	hub := newFakeHub()

	m := NewMonitor(registry, media, nil,
		func() port.SignalTransport { return hub.newTransport() },
		func() (port.PeerConnection, error) { return newFakePeer(), nil },
		NegotiatorOptions{}, testLogger())

	_, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.ErrorIs(t, err, domain.ErrMediaAcquisition)

	// No degraded no-media session is left behind.
	require.Empty(t, registry.ListActive(""))
}

func TestStartPublisherSurvivesConnectFailure(t *testing.T) {
	registry := NewSessionRegistry(testLogger())
	media := &fakeMedia{}
	tr := &fakeTransport{connectErr: errors.New("endpoint down")}

	m := NewMonitor(registry, media, nil,
		func() port.SignalTransport { return tr },
		func() (port.PeerConnection, error) { return newFakePeer(), nil },
		NegotiatorOptions{}, testLogger())

	sess, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.Error(t, err)
	require.NotNil(t, sess)

	// The session record survives a failed connect; retrying reuses it
	// and completes the start.
	_, getErr := registry.Get(sess.ID)
	require.NoError(t, getErr)

	tr.mu.Lock()
	tr.connectErr = nil
	tr.mu.Unlock()

	again, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.NoError(t, err)
	require.Equal(t, sess.ID, again.ID)

	sent := tr.sentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, domain.SignalOffer, sent[0].Type)
	require.Equal(t, sess.ID, sent[0].SessionID)
	require.Equal(t, sess.ID, sent[0].TargetSessionID)
}

func TestStartPublisherIsIdempotent(t *testing.T) {
	registry := NewSessionRegistry(testLogger())
	media := &fakeMedia{}
	tr := &fakeTransport{}

	m := NewMonitor(registry, media, nil,
		func() port.SignalTransport { return tr },
		func() (port.PeerConnection, error) { return newFakePeer(), nil },
		NegotiatorOptions{}, testLogger())

	first, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.NoError(t, err)
	second, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Media was acquired once and exactly one offer went out.
	require.Len(t, media.acquired, 1)
	require.Len(t, tr.sentMessages(), 1)
}

func TestEndTearsDownSynchronously(t *testing.T) {
	registry := NewSessionRegistry(testLogger())
	media := &fakeMedia{}
	archiver := memory.NewArchiver()
	tr := &fakeTransport{}

	m := NewMonitor(registry, media, archiver,
		func() port.SignalTransport { return tr },
		func() (port.PeerConnection, error) { return newFakePeer(), nil },
		NegotiatorOptions{}, testLogger())

	sess, err := m.StartPublisher(context.Background(), "e1", "st1", "Ada")
	require.NoError(t, err)

	require.NoError(t, m.End(context.Background(), sess.ID))

	require.Empty(t, registry.ListActive(""))
	require.False(t, tr.connected)
	require.Equal(t, 1, media.stopCalled)
	require.Len(t, archiver.Ended(), 1)
	require.Equal(t, sess.ID, archiver.Ended()[0].ID)

	require.ErrorIs(t, m.End(context.Background(), sess.ID), domain.ErrSessionNotFound)
}

func TestViewerAnswersPublisherOffer(t *testing.T) {
	registry := NewSessionRegistry(testLogger())
	media := &fakeMedia{}
	hub := newFakeHub()

	m := NewMonitor(registry, media, nil,
		func() port.SignalTransport { return hub.newTransport() },
		func() (port.PeerConnection, error) { return newFakePeer(), nil },
		NegotiatorOptions{}, testLogger())

	// The proctor side joins the session key first, then the student
	// publishes into it.
	viewer, err := m.StartViewer(context.Background(), "s1")
	require.NoError(t, err)
	defer viewer.Close()

	pub := hub.newTransport()
	require.NoError(t, pub.Connect(context.Background(), "s1"))

	var mu sync.Mutex
	var answers []domain.SignalMessage
	pub.SetHandler(func(msg domain.SignalMessage) {
		mu.Lock()
		answers = append(answers, msg)
		mu.Unlock()
	})

	require.NoError(t, pub.Send(context.Background(), domain.SignalMessage{
		Type:  domain.SignalOffer,
		Offer: &webrtcOffer,
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(answers) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, domain.SignalAnswer, answers[0].Type)
	require.Equal(t, domain.SessionID("s1"), answers[0].SessionID)
	require.Equal(t, domain.SessionID("s1"), answers[0].TargetSessionID)
}
