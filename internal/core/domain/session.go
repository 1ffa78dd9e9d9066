package domain

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// ViolationKind categorizes a detected exam-rule breach.
type ViolationKind string

const (
	ViolationNoFace        ViolationKind = "no-face-detected"
	ViolationLookingAway   ViolationKind = "looking-away"
	ViolationMultipleFaces ViolationKind = "multiple-faces"
	ViolationOther         ViolationKind = "other"
)

// Violation is one detected rule breach. Records are append-only: once
// added to a session they are never mutated or removed.
type Violation struct {
	Kind        ViolationKind
	DetectedAt  time.Time
	Confidence  float64
	Description string
}

// Session is one exam-monitoring relationship between a participant and
// a proctor. The identifying attributes are immutable after creation.
type Session struct {
	ID              SessionID
	ExamID          ExamID
	ParticipantID   ParticipantID
	ParticipantName string
	Status          SessionStatus
	StartedAt       time.Time
	EndedAt         time.Time
	Violations      []Violation
}

func NewSession(examID ExamID, participantID ParticipantID, name string) *Session {
	return &Session{
		ID:              NewSessionID(),
		ExamID:          examID,
		ParticipantID:   participantID,
		ParticipantName: name,
		Status:          SessionActive,
		StartedAt:       time.Now(),
	}
}

// FlagLevel buckets a session by its violation count.
type FlagLevel string

const (
	FlagActive  FlagLevel = "active"  // fewer than 3 violations
	FlagWarning FlagLevel = "warning" // 3 to 5 violations
	FlagFlagged FlagLevel = "flagged" // more than 5 violations
)

func (s *Session) FlagLevel() FlagLevel {
	switch n := len(s.Violations); {
	case n > 5:
		return FlagFlagged
	case n >= 3:
		return FlagWarning
	default:
		return FlagActive
	}
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Violations = make([]Violation, len(s.Violations))
	copy(cp.Violations, s.Violations)
	return &cp
}
