package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

const defaultTimeout = 3 * time.Second

// Archiver forwards session records to the platform's REST backend.
// Calls are fire-and-forget from the core's point of view: the caller
// logs failures and moves on.
type Archiver struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

var (
	_ port.ViolationArchiver = (*Archiver)(nil)
	_ port.HealthChecker     = (*Archiver)(nil)
)

func NewArchiver(baseURL string, log zerolog.Logger) *Archiver {
	return &Archiver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		log:     log.With().Str("component", "rest_archiver").Logger(),
	}
}

type violationDTO struct {
	Kind        string    `json:"kind"`
	DetectedAt  time.Time `json:"detectedAt"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
}

func (a *Archiver) ArchiveViolation(ctx context.Context, sessionID domain.SessionID, v domain.Violation) error {
	dto := violationDTO{
		Kind:        string(v.Kind),
		DetectedAt:  v.DetectedAt,
		Confidence:  v.Confidence,
		Description: v.Description,
	}
	return a.post(ctx, fmt.Sprintf("%s/sessions/%s/violations", a.baseURL, sessionID), dto)
}

type endDTO struct {
	ExamID        string    `json:"examId"`
	ParticipantID string    `json:"participantId"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
	Violations    int       `json:"violations"`
}

func (a *Archiver) ArchiveEnd(ctx context.Context, s *domain.Session) error {
	dto := endDTO{
		ExamID:        s.ExamID.String(),
		ParticipantID: s.ParticipantID.String(),
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Violations:    len(s.Violations),
	}
	return a.post(ctx, fmt.Sprintf("%s/sessions/%s/end", a.baseURL, s.ID), dto)
}

// Healthy probes the backend's health endpoint. Opportunistic only; it
// never gates core behavior.
func (a *Archiver) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Archiver) post(ctx context.Context, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %d for %s", resp.StatusCode, target)
	}
	return nil
}
