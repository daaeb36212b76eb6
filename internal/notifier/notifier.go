// Package notifier announces a counterpart's presence transitions in the
// transcript. Each watching side observes the remote slot, not its own;
// self-departure is announced directly by the presence emitter.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/presence"
	"github.com/ashureev/pairlab/internal/store"
)

// Notifier watches one slot of one session. On a transition to online it
// rearms the slot's left-notified flag; on a transition to offline or stale
// it appends the leave announcement at most once, guarded by the flag as a
// distributed test-and-set plus the store's event-key deduplication for the
// residual race window.
type Notifier struct {
	st        store.Store
	sessionID string
	watched   domain.Slot
	staleness time.Duration
	recheck   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Watch starts a notifier for the given slot. The recheck interval covers
// staleness expiry, which produces no store event; zero defaults to an
// eighth of the staleness window. Stop tears the watch down.
func Watch(st store.Store, sessionID string, watched domain.Slot, staleness, recheck time.Duration) *Notifier {
	if staleness <= 0 {
		staleness = presence.DefaultStaleness
	}
	if recheck <= 0 {
		recheck = staleness / 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		st:        st,
		sessionID: sessionID,
		watched:   watched,
		staleness: staleness,
		recheck:   recheck,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	trigger := make(chan struct{}, 1)
	unsubscribe := st.Subscribe(func(ev store.Event) {
		if ev.SessionID == sessionID && ev.Kind == store.KindPresence {
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	})

	go func() {
		defer close(n.done)
		defer unsubscribe()
		ticker := time.NewTicker(n.recheck)
		defer ticker.Stop()

		n.Evaluate(ctx)
		for {
			select {
			case <-trigger:
				n.Evaluate(ctx)
			case <-ticker.C:
				n.Evaluate(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return n
}

// Stop tears down the watch subscription and ticker.
func (n *Notifier) Stop() {
	n.cancel()
	<-n.done
}

// Evaluate runs one observation of the watched slot. Store failures are
// logged and retried on the next trigger; they never stop the watch.
func (n *Notifier) Evaluate(ctx context.Context) {
	rec, err := n.st.GetPresence(ctx, n.sessionID, n.watched)
	if err != nil {
		slog.Warn("Notifier failed to read presence",
			"session_id", n.sessionID, "slot", n.watched, "error", err)
		return
	}
	if rec == nil {
		// Never joined; there is no transition to announce.
		return
	}

	sess, err := n.st.GetSession(ctx, n.sessionID)
	if err != nil {
		slog.Warn("Notifier failed to read session",
			"session_id", n.sessionID, "error", err)
		return
	}
	if sess == nil {
		return
	}

	if presence.IsOnline(rec, time.Now(), n.staleness) {
		// Rearm so the next departure is announced again. No arrival
		// message: the joining client announces itself.
		if sess.LeftNotified(n.watched) {
			if err := n.st.MergeSession(ctx, n.sessionID, domain.LeftNotifiedPatch(n.watched, false)); err != nil {
				slog.Warn("Notifier failed to rearm left-notified flag",
					"session_id", n.sessionID, "slot", n.watched, "error", err)
			}
		}
		return
	}

	if sess.LeftNotified(n.watched) {
		// Another observer, or the leaving client itself, already announced.
		return
	}

	msgs, err := n.st.Messages(ctx, n.sessionID)
	if err != nil {
		slog.Warn("Notifier failed to read transcript",
			"session_id", n.sessionID, "error", err)
		return
	}
	epoch := domain.EventEpoch(msgs, n.watched, domain.EventLeft)

	appended, err := n.st.AppendMessage(ctx, n.sessionID, domain.LeftMessage(n.watched, epoch, time.Now()))
	if err != nil {
		slog.Warn("Notifier failed to append leave announcement",
			"session_id", n.sessionID, "slot", n.watched, "error", err)
		return
	}
	if appended {
		slog.Info("Leave announced", "session_id", n.sessionID, "slot", n.watched)
	}

	if err := n.st.MergeSession(ctx, n.sessionID, domain.LeftNotifiedPatch(n.watched, true)); err != nil {
		slog.Warn("Notifier failed to set left-notified flag",
			"session_id", n.sessionID, "slot", n.watched, "error", err)
	}
}
