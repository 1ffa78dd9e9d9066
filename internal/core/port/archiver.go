package port

import (
	"context"

	"github.com/examwatch/examwatch/internal/core/domain"
)

// ViolationArchiver is the external persistence collaborator. Calls are
// best effort: the in-memory registry stays the source of truth for the
// session's lifetime and failures here are logged, never rolled back.
type ViolationArchiver interface {
	ArchiveViolation(ctx context.Context, sessionID domain.SessionID, violation domain.Violation) error
	ArchiveEnd(ctx context.Context, session *domain.Session) error
}

// HealthChecker probes a companion service. Used opportunistically; it
// never gates core behavior.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}
