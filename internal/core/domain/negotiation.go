package domain

// Role fixes which half of the offer/answer exchange a negotiation
// context drives for its whole lifetime.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// SignalingState mirrors the offer/answer negotiation states.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// ConnectionState tracks the underlying peer connection.
type ConnectionState string

const (
	ConnectionNew        ConnectionState = "new"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionFailed     ConnectionState = "failed"
	ConnectionClosed     ConnectionState = "closed"
)
