package archiver

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/presence"
	"github.com/ashureev/pairlab/internal/store"
)

const testStaleness = 120 * time.Second

func seedSession(t *testing.T, st store.Store, id string) {
	t.Helper()
	if err := st.MergeSession(context.Background(), id, domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
}

func seedPresence(t *testing.T, st store.Store, id string, slot domain.Slot, online bool, age time.Duration) {
	t.Helper()
	when := time.Now().Add(-age)
	if err := st.MergePresence(context.Background(), id, slot, domain.PresenceAssertion(online, when)); err != nil {
		t.Fatalf("MergePresence failed: %v", err)
	}
}

func archived(t *testing.T, st store.Store, id string) bool {
	t.Helper()
	sess, err := st.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil {
		t.Fatalf("Session %s not found", id)
	}
	return sess.Archived
}

func TestSweepArchivesWhenBothStale(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "sess-1")
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, true, 130*time.Second)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, false, 0)

	a := New(st, testStaleness, time.Hour)
	a.Sweep(context.Background())

	if !archived(t, st, "sess-1") {
		t.Error("Expected session archived when both slots are gone")
	}
}

func TestSweepKeepsSessionWithOneLiveSlot(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "sess-1")
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, true, 10*time.Second)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, true, 130*time.Second)

	a := New(st, testStaleness, time.Hour)
	a.Sweep(context.Background())

	if archived(t, st, "sess-1") {
		t.Error("Expected session kept while one participant is live")
	}
}

func TestSweepArchivesSilentDisappearance(t *testing.T) {
	// Both sides crashed: online flags still true, heartbeats expired.
	st := store.NewMemory()
	seedSession(t, st, "sess-1")
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, true, 3*time.Minute)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, true, 5*time.Minute)

	a := New(st, testStaleness, time.Hour)
	a.Sweep(context.Background())

	if !archived(t, st, "sess-1") {
		t.Error("Expected session archived despite online flags")
	}
}

func TestSweepSkipsArchivedSessions(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	if err := st.MergeSession(ctx, "sess-1", domain.SessionPatch{Archived: domain.Bool(true)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}

	events := 0
	unsubscribe := st.Subscribe(func(ev store.Event) {
		if ev.Kind == store.KindSession {
			events++
		}
	})
	defer unsubscribe()

	a := New(st, testStaleness, time.Hour)
	a.Sweep(ctx)

	if events != 0 {
		t.Errorf("Expected no writes for already archived session, got %d", events)
	}
}

func TestSweepEvaluatesEachSessionIndependently(t *testing.T) {
	st := store.NewMemory()

	seedSession(t, st, "dead")
	seedPresence(t, st, "dead", domain.SlotParticipant1, false, 0)
	seedPresence(t, st, "dead", domain.SlotParticipant2, false, 0)

	seedSession(t, st, "live")
	seedPresence(t, st, "live", domain.SlotParticipant1, true, 0)
	seedPresence(t, st, "live", domain.SlotParticipant2, true, 0)

	a := New(st, testStaleness, time.Hour)
	a.Sweep(context.Background())

	if !archived(t, st, "dead") {
		t.Error("Expected dead session archived")
	}
	if archived(t, st, "live") {
		t.Error("Expected live session kept")
	}
}

func TestRejoinResetsArchival(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	seedSession(t, st, "sess-1")
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, false, 0)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, false, 0)

	a := New(st, testStaleness, time.Hour)
	a.Sweep(ctx)
	if !archived(t, st, "sess-1") {
		t.Fatal("Expected session archived")
	}

	e, err := presence.Join(ctx, st, "sess-1", domain.SlotParticipant1, time.Hour)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer e.Leave(ctx)

	if archived(t, st, "sess-1") {
		t.Error("Expected rejoin to unarchive the session")
	}

	// The next sweep keeps it active while the rejoined slot is live.
	a.Sweep(ctx)
	if archived(t, st, "sess-1") {
		t.Error("Expected session kept after rejoin sweep")
	}
}

func TestStartArchivesOnPresenceEvent(t *testing.T) {
	st := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedSession(t, st, "sess-1")
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, true, 0)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, true, 0)

	a := New(st, testStaleness, time.Hour)
	a.Start(ctx)

	// Both participants go offline; the resulting events drive the sweep.
	seedPresence(t, st, "sess-1", domain.SlotParticipant1, false, 0)
	seedPresence(t, st, "sess-1", domain.SlotParticipant2, false, 0)

	deadline := time.After(2 * time.Second)
	for !archived(t, st, "sess-1") {
		select {
		case <-deadline:
			t.Fatal("Expected session archived after both went offline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
