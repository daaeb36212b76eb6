// Package store provides the shared session document store: merge-style
// partial updates to session and presence documents, an append-only message
// sequence per session, and change notifications for watchers.
package store

import (
	"context"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
)

// EventKind classifies a store change notification.
type EventKind string

const (
	KindSession  EventKind = "session"
	KindPresence EventKind = "presence"
	KindMessage  EventKind = "message"
)

// Event describes one change to the underlying documents.
type Event struct {
	SessionID string
	Kind      EventKind
}

// Store is the document-store abstraction the coordinator runs against.
// All mutations are merge updates to disjoint or idempotent fields; there is
// no cross-actor lock. Implementations must notify subscribers after every
// successful write.
type Store interface {
	// GetSession retrieves a session document. Returns (nil, nil) if absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// MergeSession applies a partial update to a session document, creating
	// it if it does not exist. Nil patch fields leave stored values intact.
	MergeSession(ctx context.Context, id string, patch domain.SessionPatch) error

	// ActiveSessions lists all sessions with archived == false.
	ActiveSessions(ctx context.Context) ([]*domain.Session, error)

	// Sessions lists every session, archived or not.
	Sessions(ctx context.Context) ([]*domain.Session, error)

	// GetPresence retrieves one slot's presence record. Returns (nil, nil)
	// if the slot has never been written; absence evaluates to offline.
	GetPresence(ctx context.Context, sessionID string, slot domain.Slot) (*domain.PresenceRecord, error)

	// MergePresence applies a partial update to one slot's presence record,
	// creating it if it does not exist.
	MergePresence(ctx context.Context, sessionID string, slot domain.Slot, patch domain.PresencePatch) error

	// AppendMessage appends to the session's ordered transcript. When the
	// message carries an event key and a message with the same key already
	// exists in the session, the append is suppressed and (false, nil) is
	// returned.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error)

	// Messages returns the session transcript ordered by timestamp.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// CreateInteractionLog stores a new interaction log document.
	CreateInteractionLog(ctx context.Context, log *domain.InteractionLog) error

	// GetInteractionLog retrieves an interaction log. Returns (nil, nil) if absent.
	GetInteractionLog(ctx context.Context, id string) (*domain.InteractionLog, error)

	// UpdateInteractionLog replaces an interaction log document.
	UpdateInteractionLog(ctx context.Context, log *domain.InteractionLog) error

	// ListInteractionLogs returns logs ordered by start time descending.
	ListInteractionLogs(ctx context.Context, q LogQuery) ([]*domain.InteractionLog, error)

	// Subscribe registers a change callback and returns its unsubscribe
	// function. Callbacks run on the writer's goroutine and must not block.
	Subscribe(fn func(Event)) (unsubscribe func())

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// LogQuery filters interaction log listings.
type LogQuery struct {
	Limit int
	Start time.Time
	End   time.Time
}
