package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice-candidate"
	SignalError     SignalType = "error"
)

// CandidatePayload is the wire form of one ICE candidate. SDPMid and
// SDPMLineIndex are optional on the wire and default to "0" and 0.
type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func NewCandidatePayload(init webrtc.ICECandidateInit) CandidatePayload {
	return CandidatePayload{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// ICECandidateInit converts the payload to the pion form, applying the
// wire defaults for absent fields.
func (c CandidatePayload) ICECandidateInit() webrtc.ICECandidateInit {
	mid := "0"
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	var line uint16
	if c.SDPMLineIndex != nil {
		line = *c.SDPMLineIndex
	}
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           &mid,
		SDPMLineIndex:    &line,
		UsernameFragment: c.UsernameFragment,
	}
}

// SignalMessage is the common envelope for everything crossing the
// signaling channel. Exactly one payload field is set, selected by Type.
type SignalMessage struct {
	Type            SignalType                 `json:"type"`
	SessionID       SessionID                  `json:"sessionId,omitempty"`
	TargetSessionID SessionID                  `json:"targetSessionId,omitempty"`
	Offer           *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer          *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate       *CandidatePayload          `json:"candidate,omitempty"`
	Error           string                     `json:"error,omitempty"`
}

func NewOfferMessage(offer webrtc.SessionDescription, target SessionID) SignalMessage {
	return SignalMessage{Type: SignalOffer, TargetSessionID: target, Offer: &offer}
}

func NewAnswerMessage(answer webrtc.SessionDescription, target SessionID) SignalMessage {
	return SignalMessage{Type: SignalAnswer, TargetSessionID: target, Answer: &answer}
}

func NewCandidateMessage(init webrtc.ICECandidateInit, target SessionID) SignalMessage {
	payload := NewCandidatePayload(init)
	return SignalMessage{Type: SignalCandidate, TargetSessionID: target, Candidate: &payload}
}

var errEmptySignal = errors.New("empty signal payload")

// DecodeSignal is the single validating parse step at the transport
// boundary. It rejects unknown types and envelopes whose payload does
// not match their type, so the state machine only ever sees well-formed
// messages.
func DecodeSignal(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("decode signal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return SignalMessage{}, err
	}
	return msg, nil
}

func (m SignalMessage) Validate() error {
	switch m.Type {
	case SignalOffer:
		if m.Offer == nil || m.Offer.SDP == "" {
			return fmt.Errorf("offer signal: %w", errEmptySignal)
		}
	case SignalAnswer:
		if m.Answer == nil || m.Answer.SDP == "" {
			return fmt.Errorf("answer signal: %w", errEmptySignal)
		}
	case SignalCandidate:
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("candidate signal: %w", errEmptySignal)
		}
	case SignalError:
		// error text may legitimately be empty
	default:
		return fmt.Errorf("unknown signal type %q", m.Type)
	}
	return nil
}
