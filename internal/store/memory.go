package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
)

// MemoryStore implements Store in process memory. It backs tests for the
// coordinator components and ephemeral development runs where no database
// path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	presence map[string]map[domain.Slot]*domain.PresenceRecord
	messages map[string][]domain.Message
	logs     map[string]*domain.InteractionLog
	hub      *hub
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		presence: make(map[string]map[domain.Slot]*domain.PresenceRecord),
		messages: make(map[string][]domain.Message),
		logs:     make(map[string]*domain.InteractionLog),
		hub:      newHub(),
	}
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Subscribe registers a change callback.
func (s *MemoryStore) Subscribe(fn func(Event)) func() {
	return s.hub.subscribe(fn)
}

// GetSession retrieves a session document.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

// MergeSession applies a partial update, creating the session if needed.
func (s *MemoryStore) MergeSession(_ context.Context, id string, patch domain.SessionPatch) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &domain.Session{ID: id, CreatedAt: time.Now()}
		s.sessions[id] = sess
	}
	if patch.Archived != nil {
		sess.Archived = *patch.Archived
	}
	if patch.Participant1LeftNotified != nil {
		sess.Participant1LeftNotified = *patch.Participant1LeftNotified
	}
	if patch.Participant2LeftNotified != nil {
		sess.Participant2LeftNotified = *patch.Participant2LeftNotified
	}
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.hub.broadcast(Event{SessionID: id, Kind: KindSession})
	return nil
}

// ActiveSessions lists all sessions with archived == false.
func (s *MemoryStore) ActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	all, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var active []*domain.Session
	for _, sess := range all {
		if !sess.Archived {
			active = append(active, sess)
		}
	}
	return active, nil
}

// Sessions lists every session ordered by creation time.
func (s *MemoryStore) Sessions(context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		copied := *sess
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// GetPresence retrieves one slot's presence record.
func (s *MemoryStore) GetPresence(_ context.Context, sessionID string, slot domain.Slot) (*domain.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots, ok := s.presence[sessionID]
	if !ok {
		return nil, nil
	}
	rec, ok := slots[slot]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

// MergePresence applies a partial update to one slot's record.
func (s *MemoryStore) MergePresence(_ context.Context, sessionID string, slot domain.Slot, patch domain.PresencePatch) error {
	s.mu.Lock()
	slots, ok := s.presence[sessionID]
	if !ok {
		slots = make(map[domain.Slot]*domain.PresenceRecord)
		s.presence[sessionID] = slots
	}
	rec, ok := slots[slot]
	if !ok {
		rec = &domain.PresenceRecord{}
		slots[slot] = rec
	}
	if patch.Online != nil {
		rec.Online = *patch.Online
	}
	if patch.LastSeen != nil {
		rec.LastSeen = *patch.LastSeen
	}
	if patch.Heartbeat != nil {
		rec.Heartbeat = *patch.Heartbeat
	}
	s.mu.Unlock()

	s.hub.broadcast(Event{SessionID: sessionID, Kind: KindPresence})
	return nil
}

// AppendMessage appends to the transcript, deduplicating keyed events.
func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg domain.Message) (bool, error) {
	s.mu.Lock()
	if msg.EventKey != "" {
		for _, existing := range s.messages[sessionID] {
			if existing.EventKey == msg.EventKey {
				s.mu.Unlock()
				return false, nil
			}
		}
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.mu.Unlock()

	s.hub.broadcast(Event{SessionID: sessionID, Kind: KindMessage})
	return true, nil
}

// Messages returns the ordered transcript for a session.
func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// CreateInteractionLog stores a new interaction log document.
func (s *MemoryStore) CreateInteractionLog(_ context.Context, log *domain.InteractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logs[log.ID]; exists {
		return fmt.Errorf("interaction log already exists: %s", log.ID)
	}
	s.logs[log.ID] = cloneLog(log)
	return nil
}

// GetInteractionLog retrieves an interaction log by ID.
func (s *MemoryStore) GetInteractionLog(_ context.Context, id string) (*domain.InteractionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	return cloneLog(log), nil
}

// UpdateInteractionLog replaces an interaction log document.
func (s *MemoryStore) UpdateInteractionLog(_ context.Context, log *domain.InteractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[log.ID]; !ok {
		return fmt.Errorf("interaction log not found: %s", log.ID)
	}
	s.logs[log.ID] = cloneLog(log)
	return nil
}

// ListInteractionLogs returns logs ordered by start time descending.
func (s *MemoryStore) ListInteractionLogs(_ context.Context, q LogQuery) ([]*domain.InteractionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []*domain.InteractionLog
	for _, log := range s.logs {
		if !q.Start.IsZero() && log.StartTime.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && log.StartTime.After(q.End) {
			continue
		}
		logs = append(logs, cloneLog(log))
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartTime.After(logs[j].StartTime)
	})
	if q.Limit > 0 && len(logs) > q.Limit {
		logs = logs[:q.Limit]
	}
	return logs, nil
}

func cloneLog(log *domain.InteractionLog) *domain.InteractionLog {
	copied := *log
	copied.Messages = make([]domain.Message, len(log.Messages))
	copy(copied.Messages, log.Messages)
	return &copied
}
