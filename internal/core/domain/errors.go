package domain

import "errors"

var (
	// ErrConnectTimeout: the signaling endpoint did not acknowledge the
	// connection within the handshake deadline.
	ErrConnectTimeout = errors.New("signaling connect timed out")

	// ErrChannelNotReady: a send was attempted while the channel was down
	// or reconnecting and it did not reopen within the wait budget.
	ErrChannelNotReady = errors.New("signaling channel not ready")

	// ErrSessionNotFound: the referenced session id is not in the live
	// registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMediaAcquisition: local capture was denied or unavailable.
	ErrMediaAcquisition = errors.New("local media acquisition failed")
)
