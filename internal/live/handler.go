package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	"github.com/ashureev/pairlab/internal/logbook"
	"github.com/ashureev/pairlab/internal/notifier"
	"github.com/ashureev/pairlab/internal/pacing"
	"github.com/ashureev/pairlab/internal/presence"
	"github.com/ashureev/pairlab/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Options tunes the per-connection coordinator pieces.
type Options struct {
	HeartbeatInterval time.Duration
	Staleness         time.Duration
	PromptDismiss     time.Duration

	// RearmOnRejoin also clears the counterpart's departure-notified flag
	// when this slot joins, so a later counterpart departure is announced
	// again even if it was already announced once.
	RearmOnRejoin bool
}

// Handler owns one participant's live session connection. The WebSocket
// lifetime is the participant's presence: accepting the socket joins the
// slot, and the connection closing is the departure path.
type Handler struct {
	st            store.Store
	cm            *ConnManager
	recorder      *logbook.Recorder
	opts          Options
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a live session handler.
func NewHandler(st store.Store, cm *ConnManager, recorder *logbook.Recorder, opts Options, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		st:            st,
		cm:            cm,
		recorder:      recorder,
		opts:          opts,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientFrame is what a connected client may send.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	slot := domain.Slot(r.URL.Query().Get("slot"))
	logID := r.URL.Query().Get("log_id")

	if sessionID == "" || !slot.Valid() {
		http.Error(w, "session_id and slot are required", http.StatusBadRequest)
		return
	}

	slog.Info("Live connection request",
		"session_id", sessionID, "slot", slot, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	connID := uuid.NewString()
	h.cm.Register(sessionID, connID, ws)
	defer h.cm.Unregister(sessionID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Presence is scoped to the connection: join now, leave on every exit
	// path. Departure runs on its own context because the request context is
	// already dead by then.
	emitter, err := presence.Join(ctx, h.st, sessionID, slot, h.opts.HeartbeatInterval)
	if err != nil {
		slog.Error("Failed to join session", "session_id", sessionID, "slot", slot, "error", err)
		return
	}
	if h.opts.RearmOnRejoin {
		if err := h.st.MergeSession(ctx, sessionID, domain.LeftNotifiedPatch(slot.Counterpart(), false)); err != nil {
			slog.Warn("Failed to rearm counterpart flag", "session_id", sessionID, "slot", slot, "error", err)
		}
	}
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		emitter.Leave(leaveCtx)

		if logID != "" {
			if err := h.recorder.Finalize(leaveCtx, logID); err != nil {
				slog.Warn("Failed to finalize interaction log", "log_id", logID, "error", err)
			}
		}
	}()

	// Each side watches the counterpart, never itself.
	watch := notifier.Watch(h.st, sessionID, slot.Counterpart(), h.opts.Staleness, 0)
	defer watch.Stop()

	scheduler := pacing.NewScheduler(nil, h.opts.PromptDismiss, func(active string) {
		h.push(ctx, ws, map[string]interface{}{"type": "prompt", "message": active})
	})
	scheduler.Reset(sessionID)
	defer scheduler.Close()

	// Store changes for this session fan in through a small buffer; the
	// subscription callback must never block the writer.
	changes := make(chan store.EventKind, 16)
	unsubscribe := h.st.Subscribe(func(ev store.Event) {
		if ev.SessionID != sessionID {
			return
		}
		select {
		case changes <- ev.Kind:
		default:
		}
	})
	defer unsubscribe()

	go h.pushLoop(ctx, ws, sessionID, scheduler, changes)

	// Initial snapshot so the client renders without waiting for a change.
	h.pushTranscript(ctx, ws, sessionID, scheduler)
	h.pushPresence(ctx, ws, sessionID)
	h.pushSession(ctx, ws, sessionID)

	h.readLoop(ctx, ws, sessionID, slot, logID, emitter)
	slog.Info("Live session ended", "session_id", sessionID, "slot", slot)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string, slot domain.Slot, logID string, emitter *presence.Emitter) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID, "slot", slot)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("Ignoring malformed client frame", "session_id", sessionID, "error", err)
			continue
		}

		switch frame.Type {
		case "message":
			if frame.Content == "" {
				continue
			}
			msg := domain.Message{
				Sender:    slot.Sender(),
				Content:   frame.Content,
				Timestamp: time.Now(),
			}
			if _, err := h.st.AppendMessage(ctx, sessionID, msg); err != nil {
				slog.Error("Failed to append message", "session_id", sessionID, "error", err)
				continue
			}
			if logID != "" {
				if err := h.recorder.AddMessage(ctx, logID, msg); err != nil {
					slog.Warn("Failed to record message in log", "log_id", logID, "error", err)
				}
			}
		case "foreground":
			emitter.Foreground(ctx)
		case "ping":
			h.push(ctx, ws, map[string]string{"type": "pong"})
		case "leave":
			return
		}
	}
}

func (h *Handler) pushLoop(ctx context.Context, ws *websocket.Conn, sessionID string, scheduler *pacing.Scheduler, changes <-chan store.EventKind) {
	for {
		select {
		case kind := <-changes:
			switch kind {
			case store.KindMessage:
				h.pushTranscript(ctx, ws, sessionID, scheduler)
			case store.KindPresence:
				h.pushPresence(ctx, ws, sessionID)
			case store.KindSession:
				h.pushSession(ctx, ws, sessionID)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) pushTranscript(ctx context.Context, ws *websocket.Conn, sessionID string, scheduler *pacing.Scheduler) {
	msgs, err := h.st.Messages(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load transcript", "session_id", sessionID, "error", err)
		return
	}
	scheduler.Observe(msgs)
	h.push(ctx, ws, map[string]interface{}{"type": "transcript", "messages": msgs})
}

func (h *Handler) pushPresence(ctx context.Context, ws *websocket.Conn, sessionID string) {
	now := time.Now()
	state := make(map[string]interface{}, 3)
	state["type"] = "presence"
	for _, slot := range []domain.Slot{domain.SlotParticipant1, domain.SlotParticipant2} {
		rec, err := h.st.GetPresence(ctx, sessionID, slot)
		if err != nil {
			slog.Warn("Failed to load presence", "session_id", sessionID, "slot", slot, "error", err)
			return
		}
		state[string(slot)] = map[string]bool{
			"online": presence.IsOnline(rec, now, h.opts.Staleness),
		}
	}
	h.push(ctx, ws, state)
}

func (h *Handler) pushSession(ctx context.Context, ws *websocket.Conn, sessionID string) {
	sess, err := h.st.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		if err != nil {
			slog.Warn("Failed to load session", "session_id", sessionID, "error", err)
		}
		return
	}
	h.push(ctx, ws, map[string]interface{}{"type": "session", "archived": sess.Archived})
}

func (h *Handler) push(ctx context.Context, ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal push frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Push write failed", "error", err)
	}
}
