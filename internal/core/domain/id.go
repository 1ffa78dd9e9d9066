package domain

import (
	"github.com/google/uuid"
)

// SessionID is the routing key for one exam-monitoring session. Both the
// publisher and the viewer side of a session connect with the same id.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func (id SessionID) String() string {
	return string(id)
}

type ExamID string

func (id ExamID) String() string {
	return string(id)
}

type ParticipantID string

func (id ParticipantID) String() string {
	return string(id)
}
