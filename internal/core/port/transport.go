package port

import (
	"context"

	"github.com/examwatch/examwatch/internal/core/domain"
)

// SignalTransport is a reconnecting duplex channel to the signaling
// endpoint, keyed by a session id. Implementations own the reconnect
// and backoff policy; callers only ever retry the initial Connect.
type SignalTransport interface {
	// Connect opens the channel for the given session id. It is
	// idempotent while the channel is open for that id. It returns
	// domain.ErrConnectTimeout if the endpoint does not acknowledge
	// within the handshake deadline.
	Connect(ctx context.Context, sessionID domain.SessionID) error

	// Send stamps the message with the session id (and a default target
	// equal to it) and writes it out. During a reconnect it suspends up
	// to the wait budget, then returns domain.ErrChannelNotReady.
	Send(ctx context.Context, msg domain.SignalMessage) error

	// SetHandler registers the single inbound handler. Messages are
	// delivered one at a time, in arrival order, already decoded.
	SetHandler(handler func(domain.SignalMessage))

	// Disconnect closes the channel, clears the handler and resets
	// reconnect counters. Idempotent.
	Disconnect() error
}
