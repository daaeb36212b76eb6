// Package presence tracks participant liveness: the heartbeat emitter that
// asserts it and the evaluator that decides it.
package presence

import (
	"time"

	"github.com/ashureev/pairlab/internal/domain"
)

// DefaultStaleness is the maximum heartbeat age before a participant is
// classified offline despite an online flag. It must stay well above the
// heartbeat interval to tolerate missed ticks from backgrounded clients.
const DefaultStaleness = 120 * time.Second

// DefaultHeartbeatInterval is how often a connected participant re-asserts
// its presence.
const DefaultHeartbeatInterval = 30 * time.Second

// IsOnline is the single source of truth for "is this participant here".
// The raw online flag is never trusted alone: a crashed client leaves
// online=true behind forever with no departure write, so the heartbeat age
// decides. A missing record evaluates to offline.
func IsOnline(rec *domain.PresenceRecord, now time.Time, staleness time.Duration) bool {
	if rec == nil || !rec.Online || rec.Heartbeat == 0 {
		return false
	}
	return now.Sub(rec.HeartbeatTime()) < staleness
}
