package domain

import "time"

// PresenceRecord tracks one participant slot's liveness within a session.
// A single client owns writes to its own slot, so Heartbeat is monotonically
// non-decreasing per record. The record is created on first join and never
// deleted.
type PresenceRecord struct {
	Online    bool
	LastSeen  time.Time
	Heartbeat int64 // wall-clock milliseconds of the last heartbeat write
}

// HeartbeatTime converts the millisecond heartbeat to a time.Time.
// Zero means no heartbeat has ever been written.
func (p *PresenceRecord) HeartbeatTime() time.Time {
	if p == nil || p.Heartbeat == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.Heartbeat)
}

// PresencePatch is a merge update for a PresenceRecord. Nil fields are left
// untouched by the store.
type PresencePatch struct {
	Online    *bool
	LastSeen  *time.Time
	Heartbeat *int64
}

// PresenceAssertion builds the full online/offline triple written by the
// heartbeat emitter: online flag, lastSeen and heartbeat all stamped at now.
func PresenceAssertion(online bool, now time.Time) PresencePatch {
	ms := now.UnixMilli()
	return PresencePatch{
		Online:    &online,
		LastSeen:  &now,
		Heartbeat: &ms,
	}
}
