package model

import "time"

// Sender identifies the author of a message as stored alongside it,
// so a room's log is self-describing and readable without a user lookup.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a single chat message in a room's log.
// ID, SenderID, SentAt and Text are immutable once written; Seen is the
// only mutable field and transitions false->true exactly once, set by the
// recipient's channel.
type Message struct {
	ID         string `json:"id"`
	RoomID     string `json:"room_id"`
	Text       string `json:"text"`
	SentAt     string `json:"sent_at"` // ISO-8601, client clock; display only, never used for ordering
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Seen       bool   `json:"seen"`
}

// SentTime parses SentAt. A zero time is returned for unparseable values;
// the log order comes from the store, so a bad client clock only affects
// the displayed timestamp and date grouping.
func (m Message) SentTime() time.Time {
	t, err := time.Parse(time.RFC3339, m.SentAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
