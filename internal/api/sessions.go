package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/presence"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SessionHandler serves the REST surface for sessions: creation, the
// oversight listing with derived liveness, transcript reads and writes, and
// the HTTP fallbacks for heartbeat and departure used by clients that cannot
// hold a WebSocket open.
type SessionHandler struct {
	*Handler
	staleness time.Duration
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(base *Handler, staleness time.Duration) *SessionHandler {
	if staleness <= 0 {
		staleness = presence.DefaultStaleness
	}
	return &SessionHandler{Handler: base, staleness: staleness}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{sessionID}", h.Get)
		r.Get("/{sessionID}/messages", h.Messages)
		r.Post("/{sessionID}/messages", h.PostMessage)
		r.Post("/{sessionID}/heartbeat", h.Heartbeat)
		r.Post("/{sessionID}/leave", h.Leave)
	})
}

// Create starts a new session and its interaction log.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()

	if err := h.st.MergeSession(r.Context(), sessionID, domain.SessionPatch{Archived: domain.Bool(false)}); err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	// The log is best-effort: a session without a log is still usable.
	logID, err := h.recorder.Create(r.Context(), sessionID, domain.LogMetadata{
		UserAgent: r.UserAgent(),
		Platform:  r.Header.Get("Sec-CH-UA-Platform"),
	})
	if err != nil {
		slog.Warn("Failed to create interaction log", "session_id", sessionID, "error", err)
	}

	slog.Info("Session created", "session_id", sessionID, "log_id", logID)
	JSON(w, http.StatusCreated, map[string]string{
		"session_id": sessionID,
		"log_id":     logID,
	})
}

// sessionView is the oversight listing entry: the session plus the derived
// per-slot classification, never the raw online flags.
type sessionView struct {
	ID             string          `json:"session_id"`
	Archived       bool            `json:"archived"`
	Participant1   map[string]bool `json:"participant1"`
	Participant2   map[string]bool `json:"participant2"`
	CreatedAt      time.Time       `json:"created_at"`
	P1LeftNotified bool            `json:"participant1_left_notified"`
	P2LeftNotified bool            `json:"participant2_left_notified"`
}

// List returns all non-archived sessions with derived liveness.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.st.ActiveSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		view, err := h.buildView(r, sess)
		if err != nil {
			slog.Error("Failed to derive session view", "session_id", sess.ID, "error", err)
			continue
		}
		views = append(views, view)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

// Get returns one session with derived liveness.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.st.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	view, err := h.buildView(r, sess)
	if err != nil {
		slog.Error("Failed to derive session view", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to derive session view")
		return
	}
	JSON(w, http.StatusOK, view)
}

func (h *SessionHandler) buildView(r *http.Request, sess *domain.Session) (sessionView, error) {
	now := time.Now()
	view := sessionView{
		ID:             sess.ID,
		Archived:       sess.Archived,
		CreatedAt:      sess.CreatedAt,
		P1LeftNotified: sess.Participant1LeftNotified,
		P2LeftNotified: sess.Participant2LeftNotified,
	}

	p1, err := h.st.GetPresence(r.Context(), sess.ID, domain.SlotParticipant1)
	if err != nil {
		return view, err
	}
	p2, err := h.st.GetPresence(r.Context(), sess.ID, domain.SlotParticipant2)
	if err != nil {
		return view, err
	}

	view.Participant1 = map[string]bool{"online": presence.IsOnline(p1, now, h.staleness)}
	view.Participant2 = map[string]bool{"online": presence.IsOnline(p2, now, h.staleness)}
	return view, nil
}

// Messages returns the ordered transcript.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := h.st.Messages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load transcript", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type postMessageRequest struct {
	Slot    domain.Slot `json:"slot"`
	Content string      `json:"content"`
}

// PostMessage appends a participant message to the transcript.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Slot.Valid() || req.Content == "" {
		Error(w, http.StatusBadRequest, "slot and content are required")
		return
	}

	msg := domain.Message{
		Sender:    req.Slot.Sender(),
		Content:   req.Content,
		Timestamp: time.Now(),
	}
	if _, err := h.st.AppendMessage(r.Context(), sessionID, msg); err != nil {
		slog.Error("Failed to append message", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to append message")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"status": "appended"})
}

type slotRequest struct {
	Slot domain.Slot `json:"slot"`
}

// Heartbeat re-asserts a slot's presence over HTTP.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Slot.Valid() {
		Error(w, http.StatusBadRequest, "valid slot is required")
		return
	}

	if err := h.st.MergePresence(r.Context(), sessionID, req.Slot, domain.PresenceAssertion(true, time.Now())); err != nil {
		slog.Error("Failed to write heartbeat", "session_id", sessionID, "slot", req.Slot, "error", err)
		Error(w, http.StatusInternalServerError, "failed to write heartbeat")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Leave is the beacon-style departure path for clients whose WebSocket is
// already gone. Same ordering as the emitter: offline first, then the
// announcement, then the notified flag. Failures are logged, not surfaced;
// a departing client cannot retry.
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Slot.Valid() {
		Error(w, http.StatusBadRequest, "valid slot is required")
		return
	}

	ctx := r.Context()
	now := time.Now()

	if err := h.st.MergePresence(ctx, sessionID, req.Slot, domain.PresenceAssertion(false, now)); err != nil {
		slog.Warn("Departure presence write failed", "session_id", sessionID, "slot", req.Slot, "error", err)
	}

	// The flag guards repeated beacons for the same departure: without it a
	// retry would land in a fresh epoch and announce twice.
	sess, err := h.st.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to read session for leave", "session_id", sessionID, "error", err)
	}
	if sess != nil && sess.LeftNotified(req.Slot) {
		JSON(w, http.StatusOK, map[string]string{"status": "left"})
		return
	}

	msgs, err := h.st.Messages(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to read transcript for leave announcement",
			"session_id", sessionID, "slot", req.Slot, "error", err)
	}
	epoch := domain.EventEpoch(msgs, req.Slot, domain.EventLeft)
	if _, err := h.st.AppendMessage(ctx, sessionID, domain.LeftMessage(req.Slot, epoch, now)); err != nil {
		slog.Warn("Failed to append leave announcement",
			"session_id", sessionID, "slot", req.Slot, "error", err)
	}

	if err := h.st.MergeSession(ctx, sessionID, domain.LeftNotifiedPatch(req.Slot, true)); err != nil {
		slog.Warn("Failed to set left-notified flag",
			"session_id", sessionID, "slot", req.Slot, "error", err)
	}

	JSON(w, http.StatusOK, map[string]string{"status": "left"})
}
