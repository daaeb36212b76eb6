package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/logbook"
	"github.com/ashureev/pairlab/internal/store"
	"github.com/go-chi/chi/v5"
)

func newSessionRouter(st store.Store) chi.Router {
	base := NewHandler(st, logbook.NewRecorder(st))
	h := NewSessionHandler(base, 120*time.Second)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	st := store.NewMemory()
	r := newSessionRouter(st)

	w := doJSON(t, r, http.MethodPost, "/api/sessions/", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["session_id"] == "" {
		t.Error("Expected session_id in response")
	}
	if got["log_id"] == "" {
		t.Error("Expected log_id in response")
	}

	sess, err := st.GetSession(context.Background(), got["session_id"])
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil {
		t.Fatal("Expected session persisted")
	}
	if sess.Archived {
		t.Error("Expected new session not archived")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newSessionRouter(store.NewMemory())

	w := doJSON(t, r, http.MethodGet, "/api/sessions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHeartbeatDrivesDerivedLiveness(t *testing.T) {
	st := store.NewMemory()
	r := newSessionRouter(st)

	if err := st.MergeSession(context.Background(), "sess-1", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/heartbeat", map[string]string{"slot": "participant1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/sessions/sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var view struct {
		Participant1 map[string]bool `json:"participant1"`
		Participant2 map[string]bool `json:"participant2"`
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !view.Participant1["online"] {
		t.Error("Expected participant1 online after heartbeat")
	}
	if view.Participant2["online"] {
		t.Error("Expected participant2 offline without a heartbeat")
	}
}

func TestHeartbeatRejectsInvalidSlot(t *testing.T) {
	r := newSessionRouter(store.NewMemory())

	w := doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/heartbeat", map[string]string{"slot": "observer"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestListExcludesArchived(t *testing.T) {
	st := store.NewMemory()
	r := newSessionRouter(st)

	if err := st.MergeSession(context.Background(), "active", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if err := st.MergeSession(context.Background(), "gone", domain.SessionPatch{Archived: domain.Bool(true)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/sessions/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Sessions []struct {
			ID string `json:"session_id"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(got.Sessions))
	}
	if got.Sessions[0].ID != "active" {
		t.Errorf("Expected session 'active', got %s", got.Sessions[0].ID)
	}
}

func TestPostAndReadMessages(t *testing.T) {
	st := store.NewMemory()
	r := newSessionRouter(st)

	w := doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/messages", map[string]string{
		"slot":    "participant1",
		"content": "hello there",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/sessions/sess-1/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got.Messages))
	}
	if got.Messages[0].Sender != domain.SenderParticipant1 {
		t.Errorf("Expected Participant 1 sender, got %s", got.Messages[0].Sender)
	}
	if got.Messages[0].Content != "hello there" {
		t.Errorf("Expected content kept, got %q", got.Messages[0].Content)
	}
}

func TestPostMessageValidation(t *testing.T) {
	r := newSessionRouter(store.NewMemory())

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing slot", map[string]string{"content": "x"}},
		{"missing content", map[string]string{"slot": "participant1"}},
		{"invalid slot", map[string]string{"slot": "nobody", "content": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/messages", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestLeaveAnnouncesAndFlags(t *testing.T) {
	st := store.NewMemory()
	r := newSessionRouter(st)
	ctx := context.Background()

	if err := st.MergeSession(ctx, "sess-1", domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		t.Fatalf("MergeSession failed: %v", err)
	}
	if err := st.MergePresence(ctx, "sess-1", domain.SlotParticipant1, domain.PresenceAssertion(true, time.Now())); err != nil {
		t.Fatalf("MergePresence failed: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/leave", map[string]string{"slot": "participant1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	rec, err := st.GetPresence(ctx, "sess-1", domain.SlotParticipant1)
	if err != nil {
		t.Fatalf("GetPresence failed: %v", err)
	}
	if rec.Online {
		t.Error("Expected offline after leave")
	}

	sess, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.Participant1LeftNotified {
		t.Error("Expected left-notified flag set")
	}

	msgs, err := st.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "Participant 1 has left" {
		t.Errorf("Expected leave announcement, got %v", msgs)
	}

	// A repeated leave for the same epoch is suppressed by the event key.
	w = doJSON(t, r, http.MethodPost, "/api/sessions/sess-1/leave", map[string]string{"slot": "participant1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	msgs, err = st.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected announcement not duplicated, got %d messages", len(msgs))
	}
}
