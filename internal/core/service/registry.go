package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
)

// SessionRegistry is the authoritative in-memory store of active
// monitoring sessions for this process. It serializes all mutation per
// session behind one mutex (single-writer-per-key discipline): the
// negotiator, the violation relay and the monitor all funnel through it.
//
// One instance per process; constructed explicitly and injected, never
// reached through package state.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	log      zerolog.Logger
}

func NewSessionRegistry(log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.SessionID]*domain.Session),
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// Start creates a new Active session, or returns the existing one when
// an Active session for the same exam/participant pair already exists.
func (r *SessionRegistry) Start(examID domain.ExamID, participantID domain.ParticipantID, name string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ExamID == examID && s.ParticipantID == participantID {
			r.log.Debug().
				Str("session_id", s.ID.String()).
				Str("exam_id", examID.String()).
				Msg("Reusing active session")
			return s
		}
	}

	s := domain.NewSession(examID, participantID, name)
	r.sessions[s.ID] = s
	r.log.Info().
		Str("session_id", s.ID.String()).
		Str("exam_id", examID.String()).
		Str("participant_id", participantID.String()).
		Msg("Session started")
	return s
}

// End marks the session Ended, stamps EndedAt and removes it from the
// live set. Ended is terminal: the record is gone from the registry and
// a later Start for the same pair produces a fresh id.
func (r *SessionRegistry) End(sessionID domain.SessionID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s.Status = domain.SessionEnded
	s.EndedAt = time.Now()
	delete(r.sessions, sessionID)
	r.log.Info().
		Str("session_id", sessionID.String()).
		Int("violations", len(s.Violations)).
		Msg("Session ended")
	return s, nil
}

// RecordViolation appends to the session's violation log. Unknown or
// already-ended ids are a silent no-op (returns false): detections that
// race a session end must not fail the detector.
func (r *SessionRegistry) RecordViolation(sessionID domain.SessionID, v domain.Violation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.log.Debug().
			Str("session_id", sessionID.String()).
			Str("kind", string(v.Kind)).
			Msg("Violation for unknown session dropped")
		return false
	}
	s.Violations = append(s.Violations, v)
	return true
}

// Get returns a snapshot of one Active session.
func (r *SessionRegistry) Get(sessionID domain.SessionID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListActive returns snapshots of the current Active sessions. A
// non-empty filter keeps only sessions at that flag level.
func (r *SessionRegistry) ListActive(filter domain.FlagLevel) []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if filter != "" && s.FlagLevel() != filter {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}
