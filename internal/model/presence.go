package model

import "time"

// Presence is a user's online/offline record at users/{userId}/status.
// LastSeenAt is server-assigned (store clock, unix milliseconds) and is
// written both by the owning client and by the store's disconnect fallback.
type Presence struct {
	Online     bool  `json:"online"`
	LastSeenAt int64 `json:"last_seen_at,omitempty"`
}

// LastSeen returns the last-seen time, zero when the record never carried one.
func (p Presence) LastSeen() time.Time {
	if p.LastSeenAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.LastSeenAt)
}
