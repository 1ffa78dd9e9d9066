package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// DefaultConnectDeadline is how long a negotiation may take to reach
// Connected before the watchdog fires an ICE restart.
const DefaultConnectDeadline = 10 * time.Second

type NegotiatorOptions struct {
	// ConnectDeadline overrides DefaultConnectDeadline (tests shrink it).
	ConnectDeadline time.Duration
}

// Negotiator drives one side of a WebRTC offer/answer/ICE exchange for
// a single session. All steps for the same session are serialized behind
// one mutex; different sessions are fully independent.
//
// Messages that are valid on the wire but inapplicable to the current
// state (a stale answer, an out-of-turn offer, a candidate that fails to
// apply) are discarded with a log line and never abort the session.
type Negotiator struct {
	role      domain.Role
	sessionID domain.SessionID
	transport port.SignalTransport
	pc        port.PeerConnection
	log       zerolog.Logger

	mu            sync.Mutex
	signaling     domain.SignalingState
	conn          domain.ConnectionState
	pending       []webrtc.ICECandidateInit
	restartUsed   bool
	restartWanted bool
	watchdog      *time.Timer
	deadline      time.Duration
}

func NewNegotiator(
	role domain.Role,
	sessionID domain.SessionID,
	transport port.SignalTransport,
	pc port.PeerConnection,
	log zerolog.Logger,
	opts NegotiatorOptions,
) *Negotiator {
	deadline := opts.ConnectDeadline
	if deadline <= 0 {
		deadline = DefaultConnectDeadline
	}
	n := &Negotiator{
		role:      role,
		sessionID: sessionID,
		transport: transport,
		pc:        pc,
		log: log.With().
			Str("component", "negotiator").
			Str("session_id", sessionID.String()).
			Str("role", string(role)).
			Logger(),
		signaling: domain.SignalingStable,
		conn:      domain.ConnectionNew,
		deadline:  deadline,
	}

	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := transport.Send(context.Background(), domain.NewCandidateMessage(candidate, "")); err != nil {
			n.log.Warn().Err(err).Msg("Failed to send ICE candidate")
		}
	})
	pc.OnConnectionStateChange(n.handleConnectionState)

	return n
}

// SignalingState returns the current offer/answer state.
func (n *Negotiator) SignalingState() domain.SignalingState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.signaling
}

// ConnectionState returns the current peer-connection state.
func (n *Negotiator) ConnectionState() domain.ConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

// Offer creates and sends the initial offer. Only valid from Stable; a
// renegotiation request while an exchange is in flight is dropped.
func (n *Negotiator) Offer(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendOfferLocked(ctx, false)
}

func (n *Negotiator) sendOfferLocked(ctx context.Context, iceRestart bool) error {
	if n.signaling != domain.SignalingStable {
		n.log.Warn().
			Str("signaling_state", string(n.signaling)).
			Msg("Offer requested while not stable, dropping")
		return nil
	}

	offer, err := n.pc.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	n.signaling = domain.SignalingHaveLocalOffer
	n.markConnectingLocked()

	if err := n.transport.Send(ctx, domain.NewOfferMessage(offer, "")); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	if iceRestart {
		// The restarted exchange gets a fresh connect deadline.
		n.stopWatchdogLocked()
		n.conn = domain.ConnectionConnecting
		n.watchdog = time.AfterFunc(n.deadline, n.onWatchdog)
	}
	n.log.Debug().Bool("ice_restart", iceRestart).Msg("Offer sent")
	return nil
}

// HandleSignal processes one inbound signaling message. Wire it as the
// transport's message handler; the transport guarantees arrival order.
func (n *Negotiator) HandleSignal(ctx context.Context, msg domain.SignalMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.signaling == domain.SignalingClosed {
		n.log.Debug().Str("type", string(msg.Type)).Msg("Signal after close, dropping")
		return
	}

	switch msg.Type {
	case domain.SignalOffer:
		n.handleOfferLocked(ctx, msg)
	case domain.SignalAnswer:
		n.handleAnswerLocked(ctx, msg)
	case domain.SignalCandidate:
		n.handleCandidateLocked(msg)
	case domain.SignalError:
		// Peer-reported errors are informational only; they never enter
		// the state machine.
		n.log.Warn().Str("error", msg.Error).Msg("Error signal from peer")
	default:
		n.log.Warn().Str("type", string(msg.Type)).Msg("Unknown signal type, dropping")
	}
}

func (n *Negotiator) handleOfferLocked(ctx context.Context, msg domain.SignalMessage) {
	if n.signaling != domain.SignalingStable {
		// No glare resolution: an offer that arrives mid-negotiation is
		// dropped rather than corrupting the in-flight exchange.
		n.log.Warn().
			Str("signaling_state", string(n.signaling)).
			Msg("Out-of-turn offer, dropping")
		return
	}

	n.signaling = domain.SignalingHaveRemoteOffer
	if err := n.pc.SetRemoteDescription(*msg.Offer); err != nil {
		n.signaling = domain.SignalingStable
		n.log.Error().Err(err).Msg("Failed to set remote offer")
		return
	}
	n.markConnectingLocked()
	n.flushPendingLocked()

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to create answer")
		return
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		n.log.Error().Err(err).Msg("Failed to set local answer")
		return
	}
	// The answerer completes the round in one step.
	n.signaling = domain.SignalingStable

	if err := n.transport.Send(ctx, domain.NewAnswerMessage(answer, msg.SessionID)); err != nil {
		n.log.Error().Err(err).Msg("Failed to send answer")
		return
	}
	n.log.Debug().Str("target", msg.SessionID.String()).Msg("Answer sent")
}

func (n *Negotiator) handleAnswerLocked(ctx context.Context, msg domain.SignalMessage) {
	if n.signaling != domain.SignalingHaveLocalOffer {
		// Stale or duplicate answer; the exchange it belonged to is gone.
		n.log.Warn().
			Str("signaling_state", string(n.signaling)).
			Msg("Stale answer, dropping")
		return
	}

	if err := n.pc.SetRemoteDescription(*msg.Answer); err != nil {
		n.log.Error().Err(err).Msg("Failed to set remote answer")
		return
	}
	n.signaling = domain.SignalingStable
	n.flushPendingLocked()

	if n.restartWanted {
		n.restartWanted = false
		n.log.Info().Msg("Running deferred ICE restart")
		if err := n.sendOfferLocked(ctx, true); err != nil {
			n.log.Error().Err(err).Msg("Deferred ICE restart failed")
		}
	}
}

func (n *Negotiator) handleCandidateLocked(msg domain.SignalMessage) {
	if msg.Candidate == nil || msg.Candidate.Candidate == "" {
		// Local validation only; malformed payloads never reach the
		// platform API.
		n.log.Warn().Msg("Malformed ICE candidate, dropping")
		return
	}
	init := msg.Candidate.ICECandidateInit()

	if !n.pc.HasRemoteDescription() {
		n.pending = append(n.pending, init)
		n.log.Debug().Int("buffered", len(n.pending)).Msg("Buffered early ICE candidate")
		return
	}
	if err := n.pc.AddICECandidate(init); err != nil {
		n.log.Warn().Err(err).Msg("Failed to apply ICE candidate")
	}
}

// flushPendingLocked applies candidates buffered before the remote
// description existed, in the order they arrived.
func (n *Negotiator) flushPendingLocked() {
	for _, init := range n.pending {
		if err := n.pc.AddICECandidate(init); err != nil {
			n.log.Warn().Err(err).Msg("Failed to apply buffered ICE candidate")
		}
	}
	n.pending = nil
}

func (n *Negotiator) markConnectingLocked() {
	if n.conn != domain.ConnectionNew {
		return
	}
	n.conn = domain.ConnectionConnecting
	n.watchdog = time.AfterFunc(n.deadline, n.onWatchdog)
}

func (n *Negotiator) onWatchdog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == domain.ConnectionConnected || n.conn == domain.ConnectionClosed {
		return
	}
	n.log.Warn().Dur("deadline", n.deadline).Msg("Not connected within deadline")
	n.attemptRestartLocked()
}

func (n *Negotiator) handleConnectionState(state domain.ConnectionState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch state {
	case domain.ConnectionConnected:
		n.conn = domain.ConnectionConnected
		n.stopWatchdogLocked()
		n.log.Info().Msg("Peer connection established")
	case domain.ConnectionFailed:
		n.log.Warn().Msg("Peer connection failed")
		n.attemptRestartLocked()
	case domain.ConnectionClosed:
		if n.conn != domain.ConnectionClosed && n.conn != domain.ConnectionFailed {
			n.conn = domain.ConnectionClosed
			n.stopWatchdogLocked()
		}
	}
}

// attemptRestartLocked regenerates and resends an offer with an ICE
// restart, at most once per context. A second failure is terminal.
func (n *Negotiator) attemptRestartLocked() {
	if n.restartUsed {
		n.conn = domain.ConnectionFailed
		n.stopWatchdogLocked()
		n.log.Error().Msg("Restart already attempted, negotiation failed")
		return
	}
	n.restartUsed = true

	if n.signaling != domain.SignalingStable {
		// Restart while an exchange is in flight would corrupt it; run it
		// on the next transition back to stable.
		n.restartWanted = true
		n.log.Info().Msg("Deferring ICE restart until stable")
		return
	}

	n.stopWatchdogLocked()
	if err := n.sendOfferLocked(context.Background(), true); err != nil {
		n.log.Error().Err(err).Msg("ICE restart failed")
		n.conn = domain.ConnectionFailed
	}
}

func (n *Negotiator) stopWatchdogLocked() {
	if n.watchdog != nil {
		n.watchdog.Stop()
		n.watchdog = nil
	}
}

// Close tears the context down. Idempotent; cancels the watchdog and
// closes the underlying peer connection.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.signaling == domain.SignalingClosed {
		n.mu.Unlock()
		return nil
	}
	n.signaling = domain.SignalingClosed
	n.conn = domain.ConnectionClosed
	n.stopWatchdogLocked()
	n.pending = nil
	n.mu.Unlock()

	return n.pc.Close()
}
