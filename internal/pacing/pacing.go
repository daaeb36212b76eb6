// Package pacing paces a conversation through its topics by message count.
// A threshold is consumed when both participants have contributed its quota
// since the previous consumption; wall-clock time plays no part.
package pacing

import (
	"sync"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
)

// Prompt pairs a topic-advance message with the per-participant message
// quota that unlocks it.
type Prompt struct {
	Message string
	Each    int
}

// DefaultPrompts returns the standard topic schedule: the second topic after
// eight messages from each side, later topics after six each.
func DefaultPrompts() []Prompt {
	return []Prompt{
		{Message: "Please move on to the 2nd topic if you haven't already.", Each: 8},
		{Message: "Please move on to the 3rd topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 4th topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 5th topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 6th topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 7th topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 8th topic if you haven't already.", Each: 6},
		{Message: "Please move on to the 9th topic if you haven't already.", Each: 6},
	}
}

// Progress is the result of folding a transcript through the prompt table.
type Progress struct {
	Satisfied   int // thresholds fully consumed
	RemainingP1 int // participant-1 messages since the last consumption
	RemainingP2 int // participant-2 messages since the last consumption
}

// Evaluate is a pure fold over the ordered transcript. Counters fill per
// participant and drain by the current threshold whenever both buckets are
// full, so a single burst can satisfy several thresholds in one pass.
// Replaying the full history always yields the same Progress as incremental
// message-by-message evaluation.
func Evaluate(msgs []domain.Message, prompts []Prompt) Progress {
	var p Progress
	for _, m := range msgs {
		switch m.Sender {
		case domain.SenderParticipant1:
			p.RemainingP1++
		case domain.SenderParticipant2:
			p.RemainingP2++
		default:
			continue
		}

		for p.Satisfied < len(prompts) &&
			p.RemainingP1 >= prompts[p.Satisfied].Each &&
			p.RemainingP2 >= prompts[p.Satisfied].Each {
			p.RemainingP1 -= prompts[p.Satisfied].Each
			p.RemainingP2 -= prompts[p.Satisfied].Each
			p.Satisfied++
		}
	}
	return p
}

// Scheduler surfaces prompts one at a time as thresholds are satisfied.
// It never shows a prompt twice: the shown counter, not a rescan, is the
// guard, so recomputing the same satisfied count is a no-op. State is
// per-session and resets when the session changes.
type Scheduler struct {
	prompts      []Prompt
	dismissAfter time.Duration
	onChange     func(active string)

	mu        sync.Mutex
	sessionID string
	shown     int
	active    string
	timer     *time.Timer
}

// NewScheduler creates a Scheduler. onChange, if non-nil, is invoked with
// the new active prompt ("" on dismissal) outside the scheduler's lock.
func NewScheduler(prompts []Prompt, dismissAfter time.Duration, onChange func(string)) *Scheduler {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if dismissAfter <= 0 {
		dismissAfter = 8 * time.Second
	}
	return &Scheduler{
		prompts:      prompts,
		dismissAfter: dismissAfter,
		onChange:     onChange,
	}
}

// Reset clears all pacing state when the session identifier changes.
func (s *Scheduler) Reset(sessionID string) {
	s.mu.Lock()
	if s.sessionID == sessionID {
		s.mu.Unlock()
		return
	}
	s.sessionID = sessionID
	s.shown = 0
	s.active = ""
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// Observe recomputes progress over the transcript and reveals at most one
// newly satisfied prompt. While a prompt is visible no further prompt is
// considered; later satisfied thresholds surface one per subsequent call.
func (s *Scheduler) Observe(msgs []domain.Message) {
	s.mu.Lock()
	if s.active != "" {
		s.mu.Unlock()
		return
	}

	progress := Evaluate(msgs, s.prompts)
	if progress.Satisfied <= s.shown || s.shown >= len(s.prompts) {
		s.mu.Unlock()
		return
	}

	next := s.prompts[s.shown].Message
	s.active = next
	s.shown++
	s.timer = time.AfterFunc(s.dismissAfter, s.dismiss)
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(next)
	}
}

func (s *Scheduler) dismiss() {
	s.mu.Lock()
	s.active = ""
	s.timer = nil
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange("")
	}
}

// Active returns the currently visible prompt, or "" when none is shown.
func (s *Scheduler) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Shown returns how many prompts have been revealed so far.
func (s *Scheduler) Shown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

// Close stops any pending dismissal timer.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}
