package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderParticipant1 Sender = "Participant 1"
	SenderParticipant2 Sender = "Participant 2"
	SenderSystem       Sender = "system"
)

// Sender returns the message sender value for the slot.
func (s Slot) Sender() Sender {
	if s == SlotParticipant1 {
		return SenderParticipant1
	}
	return SenderParticipant2
}

// Message is one entry in a session's append-only transcript. Messages are
// immutable once appended and totally ordered by Timestamp within a session.
// EventKey is empty for ordinary chat messages; system events carry a
// deterministic key so the store can enforce at-most-one append per event.
type Message struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	EventKey  string    `json:"eventKey,omitempty"`
}

// EventKind distinguishes the presence transitions announced in the
// transcript.
type EventKind string

const (
	EventJoined EventKind = "joined"
	EventLeft   EventKind = "left"
)

// EventKeyFor builds the deduplication key for one presence transition.
// The epoch distinguishes repeated transitions of the same kind on the same
// slot: independent observers that derive the same epoch from the transcript
// collapse into a single append.
func EventKeyFor(slot Slot, kind EventKind, epoch int) string {
	return fmt.Sprintf("%s:%s:%d", slot, kind, epoch)
}

// EventEpoch counts how many system events of the given kind the slot has
// already recorded in the transcript. It is the epoch for the next event of
// that kind.
func EventEpoch(msgs []Message, slot Slot, kind EventKind) int {
	prefix := fmt.Sprintf("%s:%s:", slot, kind)
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m.EventKey, prefix) {
			n++
		}
	}
	return n
}

// JoinedMessage builds the system announcement for a slot joining.
func JoinedMessage(slot Slot, epoch int, now time.Time) Message {
	return Message{
		Sender:    SenderSystem,
		Content:   slot.DisplayName() + " has joined",
		Timestamp: now,
		EventKey:  EventKeyFor(slot, EventJoined, epoch),
	}
}

// LeftMessage builds the system announcement for a slot leaving.
func LeftMessage(slot Slot, epoch int, now time.Time) Message {
	return Message{
		Sender:    SenderSystem,
		Content:   slot.DisplayName() + " has left",
		Timestamp: now,
		EventKey:  EventKeyFor(slot, EventLeft, epoch),
	}
}
