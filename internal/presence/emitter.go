package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/store"
)

// Emitter asserts liveness for one participant slot of one session. It is a
// scoped handle: Join starts the periodic heartbeat, and Leave is the only
// way to stop it, so the ticker and the departure write are always torn down
// together.
type Emitter struct {
	st        store.Store
	sessionID string
	slot      domain.Slot
	interval  time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	leaveOnce sync.Once
}

// Join writes the online assertion for the slot, rearms the slot's
// left-notified flag, announces the arrival and starts the heartbeat ticker.
// A fresh join also resets archived=false; this is the only path that ever
// un-archives a session.
func Join(ctx context.Context, st store.Store, sessionID string, slot domain.Slot, interval time.Duration) (*Emitter, error) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	now := time.Now()

	// Presence first: watchers that react to the join announcement must
	// already see an online record.
	if err := st.MergePresence(ctx, sessionID, slot, domain.PresenceAssertion(true, now)); err != nil {
		return nil, fmt.Errorf("assert online for %s: %w", slot, err)
	}

	patch := domain.LeftNotifiedPatch(slot, false)
	patch.Archived = domain.Bool(false)
	if err := st.MergeSession(ctx, sessionID, patch); err != nil {
		return nil, fmt.Errorf("rearm session for %s: %w", slot, err)
	}

	// The arrival announcement is idempotent per epoch, so duplicate Join
	// invocations collapse into a single system message.
	msgs, err := st.Messages(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to read transcript for join announcement",
			"session_id", sessionID, "slot", slot, "error", err)
	}
	epoch := domain.EventEpoch(msgs, slot, domain.EventJoined)
	if _, err := st.AppendMessage(ctx, sessionID, domain.JoinedMessage(slot, epoch, now)); err != nil {
		slog.Warn("failed to append join announcement",
			"session_id", sessionID, "slot", slot, "error", err)
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		st:        st,
		sessionID: sessionID,
		slot:      slot,
		interval:  interval,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.run(tickCtx)

	slog.Info("Presence emitter started",
		"session_id", sessionID, "slot", slot, "interval", interval)
	return e, nil
}

func (e *Emitter) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A failed tick is transient: the next tick retries, and the
			// staleness window absorbs the gap.
			if err := e.st.MergePresence(ctx, e.sessionID, e.slot, domain.PresenceAssertion(true, time.Now())); err != nil {
				slog.Warn("heartbeat write failed",
					"session_id", e.sessionID, "slot", e.slot, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Foreground re-issues the online assertion after the client was
// backgrounded. Message history is untouched; the slot's left-notified flag
// is rearmed so a later departure is announced again.
func (e *Emitter) Foreground(ctx context.Context) {
	if err := e.st.MergePresence(ctx, e.sessionID, e.slot, domain.PresenceAssertion(true, time.Now())); err != nil {
		slog.Warn("foreground presence write failed",
			"session_id", e.sessionID, "slot", e.slot, "error", err)
		return
	}
	if err := e.st.MergeSession(ctx, e.sessionID, domain.LeftNotifiedPatch(e.slot, false)); err != nil {
		slog.Warn("foreground rearm failed",
			"session_id", e.sessionID, "slot", e.slot, "error", err)
	}
}

// Leave stops the heartbeat and writes the departure: offline assertion
// first, then the leave announcement, then the slot's left-notified flag.
// Everything is best-effort: a disconnecting client cannot retry, so
// failures are logged and swallowed. Safe to call more than once.
func (e *Emitter) Leave(ctx context.Context) {
	e.leaveOnce.Do(func() {
		e.cancel()
		<-e.done

		now := time.Now()

		// Offline before the announcement: a watcher reacting to the leave
		// message must already see online=false, or it would double-append.
		if err := e.st.MergePresence(ctx, e.sessionID, e.slot, domain.PresenceAssertion(false, now)); err != nil {
			slog.Warn("departure presence write failed",
				"session_id", e.sessionID, "slot", e.slot, "error", err)
		}

		msgs, err := e.st.Messages(ctx, e.sessionID)
		if err != nil {
			slog.Warn("failed to read transcript for leave announcement",
				"session_id", e.sessionID, "slot", e.slot, "error", err)
		}
		epoch := domain.EventEpoch(msgs, e.slot, domain.EventLeft)
		if _, err := e.st.AppendMessage(ctx, e.sessionID, domain.LeftMessage(e.slot, epoch, now)); err != nil {
			slog.Warn("failed to append leave announcement",
				"session_id", e.sessionID, "slot", e.slot, "error", err)
		}

		if err := e.st.MergeSession(ctx, e.sessionID, domain.LeftNotifiedPatch(e.slot, true)); err != nil {
			slog.Warn("failed to set left-notified flag",
				"session_id", e.sessionID, "slot", e.slot, "error", err)
		}

		slog.Info("Presence emitter stopped", "session_id", e.sessionID, "slot", e.slot)
	})
}

// SessionID returns the session this emitter is attached to.
func (e *Emitter) SessionID() string { return e.sessionID }

// Slot returns the participant slot this emitter asserts.
func (e *Emitter) Slot() domain.Slot { return e.slot }
