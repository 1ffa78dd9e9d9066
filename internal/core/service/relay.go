package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// ViolationRelay bridges the monitoring detector's callback into the
// session registry and, best effort, the external archive. The in-memory
// record is the source of truth while the session runs; a persistence
// failure is logged and never rolled back.
type ViolationRelay struct {
	registry *SessionRegistry
	archiver port.ViolationArchiver
	log      zerolog.Logger
}

func NewViolationRelay(registry *SessionRegistry, archiver port.ViolationArchiver, log zerolog.Logger) *ViolationRelay {
	return &ViolationRelay{
		registry: registry,
		archiver: archiver,
		log:      log.With().Str("component", "violation_relay").Logger(),
	}
}

// OnDetection is the callback handed to the monitoring collaborator.
func (r *ViolationRelay) OnDetection(ctx context.Context, sessionID domain.SessionID, kind domain.ViolationKind, confidence float64, description string) {
	v := domain.Violation{
		Kind:        kind,
		DetectedAt:  time.Now(),
		Confidence:  confidence,
		Description: description,
	}

	if !r.registry.RecordViolation(sessionID, v) {
		// Detection raced the session end; nothing to archive either.
		return
	}

	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchiveViolation(ctx, sessionID, v); err != nil {
		r.log.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Str("kind", string(kind)).
			Msg("Failed to archive violation")
	}
}
