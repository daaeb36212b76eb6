// Package archiver reclaims abandoned sessions: when both participant slots
// of a non-archived session are offline or stale, the session is archived.
package archiver

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/presence"
	"github.com/ashureev/pairlab/internal/store"
)

// Archiver evaluates the active-session set against the liveness evaluator.
// Archival is one-way and idempotent; archived sessions drop out of the scan
// and only a fresh join resets them.
type Archiver struct {
	st        store.Store
	staleness time.Duration
	sweep     time.Duration
}

// New creates an Archiver. A sweep of zero defaults to a quarter of the
// staleness window, which bounds reclamation latency when heartbeats expire
// silently and no store event ever fires.
func New(st store.Store, staleness, sweep time.Duration) *Archiver {
	if staleness <= 0 {
		staleness = presence.DefaultStaleness
	}
	if sweep <= 0 {
		sweep = staleness / 4
	}
	return &Archiver{st: st, staleness: staleness, sweep: sweep}
}

// Start runs the archiver until ctx is cancelled. Every store change
// re-triggers an evaluation pass; the sweep ticker covers stale heartbeats
// that produce no events.
func (a *Archiver) Start(ctx context.Context) {
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	unsubscribe := a.st.Subscribe(func(ev store.Event) {
		if ev.Kind == store.KindPresence || ev.Kind == store.KindSession {
			poke()
		}
	})

	go func() {
		defer unsubscribe()
		ticker := time.NewTicker(a.sweep)
		defer ticker.Stop()

		slog.Info("Archiver started", "staleness", a.staleness, "sweep", a.sweep)
		a.Sweep(ctx)

		for {
			select {
			case <-trigger:
				a.Sweep(ctx)
			case <-ticker.C:
				a.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Archiver shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one evaluation pass over all non-archived sessions. A failure
// on one session is logged and never blocks evaluation of the rest; the
// session stays in the active set and is retried on the next pass.
func (a *Archiver) Sweep(ctx context.Context) {
	sessions, err := a.st.ActiveSessions(ctx)
	if err != nil {
		slog.Error("Archiver failed to list active sessions", "error", err)
		return
	}

	now := time.Now()
	for _, sess := range sessions {
		if a.bothOffline(ctx, sess.ID, now) {
			slog.Info("Archiving session, both participants offline", "session_id", sess.ID)
			if err := a.st.MergeSession(ctx, sess.ID, domain.SessionPatch{Archived: domain.Bool(true)}); err != nil {
				slog.Error("Failed to archive session, will retry next pass",
					"session_id", sess.ID, "error", err)
			}
		}
	}
}

func (a *Archiver) bothOffline(ctx context.Context, sessionID string, now time.Time) bool {
	for _, slot := range []domain.Slot{domain.SlotParticipant1, domain.SlotParticipant2} {
		rec, err := a.st.GetPresence(ctx, sessionID, slot)
		if err != nil {
			slog.Error("Archiver failed to read presence",
				"session_id", sessionID, "slot", slot, "error", err)
			return false // inconclusive pass, keep the session active
		}
		if presence.IsOnline(rec, now, a.staleness) {
			return false
		}
	}
	return true
}
