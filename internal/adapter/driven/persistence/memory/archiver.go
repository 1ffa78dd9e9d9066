package memory

import (
	"context"
	"sync"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// Archiver keeps archived records in memory. Used in tests and in
// deployments that run without the REST backend.
type Archiver struct {
	mu         sync.Mutex
	violations map[domain.SessionID][]domain.Violation
	ended      []*domain.Session
}

var _ port.ViolationArchiver = (*Archiver)(nil)

func NewArchiver() *Archiver {
	return &Archiver{
		violations: make(map[domain.SessionID][]domain.Violation),
	}
}

func (a *Archiver) ArchiveViolation(ctx context.Context, sessionID domain.SessionID, v domain.Violation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.violations[sessionID] = append(a.violations[sessionID], v)
	return nil
}

func (a *Archiver) ArchiveEnd(ctx context.Context, s *domain.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ended = append(a.ended, s.Clone())
	return nil
}

// Violations returns the archived violations for one session.
func (a *Archiver) Violations(sessionID domain.SessionID) []domain.Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Violation, len(a.violations[sessionID]))
	copy(out, a.violations[sessionID])
	return out
}

// Ended returns the archived end-of-session records.
func (a *Archiver) Ended() []*domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*domain.Session, len(a.ended))
	copy(out, a.ended)
	return out
}
