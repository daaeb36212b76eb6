package store

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
)

func TestMemoryMergeSessionPartialUpdate(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	if err := st.MergeSession(ctx, "sess-1", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if err := st.MergeSession(ctx, "sess-1", domain.LeftNotifiedPatch(domain.SlotParticipant1, true)); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}

	sess, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Archived {
		t.Error("Expected archived untouched by flag patch")
	}
	if !sess.Participant1LeftNotified {
		t.Error("Expected participant1 flag set")
	}
	if sess.Participant2LeftNotified {
		t.Error("Expected participant2 flag untouched")
	}
}

func TestMemoryGetSessionMissing(t *testing.T) {
	st := NewMemory()
	sess, err := st.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Errorf("Expected nil for missing session, got %+v", sess)
	}
}

func TestMemoryActiveSessions(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	if err := st.MergeSession(ctx, "active", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if err := st.MergeSession(ctx, "archived", domain.SessionPatch{Archived: domain.Bool(true)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}

	active, err := st.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(active))
	}
	if active[0].ID != "active" {
		t.Errorf("Expected session 'active', got %s", active[0].ID)
	}
}

func TestMemoryMergePresencePartialUpdate(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	now := time.Now()

	if err := st.MergePresence(ctx, "sess-1", domain.SlotParticipant1, domain.PresenceAssertion(true, now)); err != nil {
		t.Fatalf("MergePresence failed: %v", err)
	}

	// Patch only the online flag; heartbeat must survive.
	if err := st.MergePresence(ctx, "sess-1", domain.SlotParticipant1, domain.PresencePatch{Online: domain.Bool(false)}); err != nil {
		t.Fatalf("MergePresence failed: %v", err)
	}

	rec, err := st.GetPresence(ctx, "sess-1", domain.SlotParticipant1)
	if err != nil {
		t.Fatalf("GetPresence failed: %v", err)
	}
	if rec.Online {
		t.Error("Expected online false after patch")
	}
	if rec.Heartbeat != now.UnixMilli() {
		t.Errorf("Expected heartbeat %d preserved, got %d", now.UnixMilli(), rec.Heartbeat)
	}
}

func TestMemoryAppendMessageDeduplicatesKeyedEvents(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	msg := domain.LeftMessage(domain.SlotParticipant1, 0, time.Now())

	appended, err := st.AppendMessage(ctx, "sess-1", msg)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if !appended {
		t.Fatal("Expected first keyed append to succeed")
	}

	appended, err = st.AppendMessage(ctx, "sess-1", msg)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if appended {
		t.Error("Expected duplicate keyed append suppressed")
	}

	msgs, err := st.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected 1 message, got %d", len(msgs))
	}
}

func TestMemoryAppendMessageAllowsRepeatedChat(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	msg := domain.Message{Sender: domain.SenderParticipant1, Content: "hi", Timestamp: time.Now()}

	for i := 0; i < 3; i++ {
		appended, err := st.AppendMessage(ctx, "sess-1", msg)
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if !appended {
			t.Fatal("Expected unkeyed append to succeed")
		}
	}

	msgs, err := st.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("Expected 3 messages, got %d", len(msgs))
	}
}

func TestMemoryMessagesOrderedByTimestamp(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		_, err := st.AppendMessage(ctx, "sess-1", domain.Message{
			Sender:    domain.SenderParticipant1,
			Content:   offset.String(),
			Timestamp: base.Add(offset),
		})
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := st.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("Expected ordered transcript, message %d out of order", i)
		}
	}
}

func TestMemorySubscribe(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	var events []Event
	unsubscribe := st.Subscribe(func(ev Event) {
		events = append(events, ev)
	})

	if err := st.MergeSession(ctx, "sess-1", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if err := st.MergePresence(ctx, "sess-1", domain.SlotParticipant1, domain.PresenceAssertion(true, time.Now())); err != nil {
		t.Fatalf("MergePresence failed: %v", err)
	}
	if _, err := st.AppendMessage(ctx, "sess-1", domain.Message{Sender: domain.SenderParticipant1, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	wantKinds := []EventKind{KindSession, KindPresence, KindMessage}
	for i, want := range wantKinds {
		if events[i].Kind != want {
			t.Errorf("Expected event %d kind %s, got %s", i, want, events[i].Kind)
		}
		if events[i].SessionID != "sess-1" {
			t.Errorf("Expected session sess-1, got %s", events[i].SessionID)
		}
	}

	unsubscribe()
	if err := st.MergeSession(ctx, "sess-1", domain.SessionPatch{Archived: domain.Bool(true)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected no events after unsubscribe, got %d", len(events))
	}
}

func TestMemoryInteractionLogLifecycle(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	log := &domain.InteractionLog{
		ID:        "log-1",
		SessionID: "sess-1",
		StartTime: time.Now(),
	}
	if err := st.CreateInteractionLog(ctx, log); err != nil {
		t.Fatalf("CreateInteractionLog failed: %v", err)
	}
	if err := st.CreateInteractionLog(ctx, log); err == nil {
		t.Error("Expected error creating duplicate log")
	}

	log.Messages = append(log.Messages, domain.Message{Sender: domain.SenderParticipant1, Content: "hi"})
	log.Recount()
	if err := st.UpdateInteractionLog(ctx, log); err != nil {
		t.Fatalf("UpdateInteractionLog failed: %v", err)
	}

	got, err := st.GetInteractionLog(ctx, "log-1")
	if err != nil {
		t.Fatalf("GetInteractionLog failed: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("Expected message count 1, got %d", got.MessageCount)
	}
}

func TestMemoryListInteractionLogs(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"log-a", "log-b", "log-c"} {
		log := &domain.InteractionLog{
			ID:        id,
			SessionID: "sess-1",
			StartTime: base.Add(time.Duration(i) * time.Hour),
		}
		if err := st.CreateInteractionLog(ctx, log); err != nil {
			t.Fatalf("CreateInteractionLog failed: %v", err)
		}
	}

	logs, err := st.ListInteractionLogs(ctx, LogQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListInteractionLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 logs, got %d", len(logs))
	}
	if logs[0].ID != "log-c" {
		t.Errorf("Expected newest log first, got %s", logs[0].ID)
	}

	logs, err = st.ListInteractionLogs(ctx, LogQuery{Start: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("ListInteractionLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "log-c" {
		t.Errorf("Expected only log-c after start filter, got %d logs", len(logs))
	}
}
