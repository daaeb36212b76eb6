// Package domain defines the core types shared across the service.
package domain

import (
	"time"
)

// Slot identifies one of the two participant positions in a session.
type Slot string

const (
	SlotParticipant1 Slot = "participant1"
	SlotParticipant2 Slot = "participant2"
)

// Valid reports whether the slot is one of the two known positions.
func (s Slot) Valid() bool {
	return s == SlotParticipant1 || s == SlotParticipant2
}

// Counterpart returns the opposite participant slot.
func (s Slot) Counterpart() Slot {
	if s == SlotParticipant1 {
		return SlotParticipant2
	}
	return SlotParticipant1
}

// DisplayName returns the user-facing name for the slot.
func (s Slot) DisplayName() string {
	if s == SlotParticipant1 {
		return "Participant 1"
	}
	return "Participant 2"
}

// Session is the shared conversation document. It is mutated concurrently
// by both participants' connections and the background workers, always via
// merge-style partial updates; it is never deleted, only archived.
type Session struct {
	ID                       string
	Archived                 bool
	Participant1LeftNotified bool
	Participant2LeftNotified bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// LeftNotified returns the left-notified flag for the given slot.
func (s *Session) LeftNotified(slot Slot) bool {
	if slot == SlotParticipant1 {
		return s.Participant1LeftNotified
	}
	return s.Participant2LeftNotified
}

// SessionPatch is a merge update for a Session. Nil fields are left
// untouched by the store.
type SessionPatch struct {
	Archived                 *bool
	Participant1LeftNotified *bool
	Participant2LeftNotified *bool
}

// LeftNotifiedPatch builds a patch setting one slot's left-notified flag.
func LeftNotifiedPatch(slot Slot, notified bool) SessionPatch {
	if slot == SlotParticipant1 {
		return SessionPatch{Participant1LeftNotified: &notified}
	}
	return SessionPatch{Participant2LeftNotified: &notified}
}

// Bool returns a pointer for use in patch literals.
func Bool(v bool) *bool { return &v }
