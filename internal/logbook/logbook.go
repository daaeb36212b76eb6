// Package logbook keeps the research record of each conversation: a copy of
// the transcript with per-sender counts and timing. Recording is best-effort;
// callers log failures and keep the conversation going.
package logbook

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/store"
	"github.com/google/uuid"
)

// Recorder writes interaction logs through the document store.
type Recorder struct {
	st store.Store
}

// NewRecorder creates a Recorder.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{st: st}
}

// Create opens a new interaction log for a session and returns its ID.
func (r *Recorder) Create(ctx context.Context, sessionID string, meta domain.LogMetadata) (string, error) {
	log := &domain.InteractionLog{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartTime: time.Now(),
		Metadata:  meta,
	}
	if err := r.st.CreateInteractionLog(ctx, log); err != nil {
		return "", fmt.Errorf("create interaction log: %w", err)
	}
	return log.ID, nil
}

// AddMessage appends a copy of the message to the log and recounts the
// per-sender totals.
func (r *Recorder) AddMessage(ctx context.Context, logID string, msg domain.Message) error {
	log, err := r.st.GetInteractionLog(ctx, logID)
	if err != nil {
		return fmt.Errorf("load interaction log: %w", err)
	}
	if log == nil {
		return fmt.Errorf("interaction log not found: %s", logID)
	}

	log.Messages = append(log.Messages, msg)
	log.Recount()

	if err := r.st.UpdateInteractionLog(ctx, log); err != nil {
		return fmt.Errorf("update interaction log: %w", err)
	}
	return nil
}

// Finalize stamps the end time and duration. Finalizing twice keeps the
// first end time.
func (r *Recorder) Finalize(ctx context.Context, logID string) error {
	log, err := r.st.GetInteractionLog(ctx, logID)
	if err != nil {
		return fmt.Errorf("load interaction log: %w", err)
	}
	if log == nil {
		return fmt.Errorf("interaction log not found: %s", logID)
	}
	if log.Finalized() {
		return nil
	}

	now := time.Now()
	log.EndTime = now
	log.Duration = int(now.Sub(log.StartTime) / time.Second)

	if err := r.st.UpdateInteractionLog(ctx, log); err != nil {
		return fmt.Errorf("finalize interaction log: %w", err)
	}
	return nil
}
