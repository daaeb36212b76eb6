package domain

import "time"

// LogMetadata captures client environment details recorded with a log.
type LogMetadata struct {
	UserAgent string
	Platform  string
}

// InteractionLog is the research record kept alongside a session: a copy of
// the transcript plus per-sender counts and timing. It is written
// best-effort; a failed log write never blocks the conversation itself.
type InteractionLog struct {
	ID                       string
	SessionID                string
	StartTime                time.Time
	EndTime                  time.Time // zero until finalized
	Duration                 int       // seconds, set on finalize
	Messages                 []Message
	MessageCount             int
	Participant1MessageCount int
	Participant2MessageCount int
	SystemMessageCount       int
	Metadata                 LogMetadata
}

// Recount recomputes the per-sender counters from the embedded messages.
func (l *InteractionLog) Recount() {
	l.MessageCount = len(l.Messages)
	l.Participant1MessageCount = 0
	l.Participant2MessageCount = 0
	l.SystemMessageCount = 0
	for _, m := range l.Messages {
		switch m.Sender {
		case SenderParticipant1:
			l.Participant1MessageCount++
		case SenderParticipant2:
			l.Participant2MessageCount++
		case SenderSystem:
			l.SystemMessageCount++
		}
	}
}

// Finalized reports whether the log has an end time.
func (l *InteractionLog) Finalized() bool {
	return !l.EndTime.IsZero()
}
