package chat

import "github.com/roomchat/internal/model"

type EntryKind string

const (
	EntryDate    EntryKind = "date"
	EntryMessage EntryKind = "message"
)

// Entry is one row of the rendered conversation: either a date separator or
// a message, optionally annotated with the trailing "seen" label.
type Entry struct {
	Kind    EntryKind     `json:"kind"`
	Date    string        `json:"date,omitempty"`
	Message model.Message `json:"message,omitzero"`
	// ShowSeen marks the single most recent own message with seen=true that
	// has no later own message after it.
	ShowSeen bool `json:"show_seen,omitempty"`
}

const dateLayout = "02.01.2006"

// Project renders the ordered log in one left-to-right pass, inserting a
// date separator immediately before the first message of each distinct
// calendar date (local time of sent_at). A separator is driven strictly by
// a change in the current date, so it never repeats and never dangles.
func Project(log []model.Message, selfID string) []Entry {
	self := model.CanonicalID(selfID)

	// The seen label belongs to the last own message, and only when seen.
	labelIdx := -1
	for i := len(log) - 1; i >= 0; i-- {
		if model.CanonicalID(log[i].SenderID) == self {
			if log[i].Seen {
				labelIdx = i
			}
			break
		}
	}

	entries := make([]Entry, 0, len(log))
	lastDate := ""
	for i, msg := range log {
		if t := msg.SentTime(); !t.IsZero() {
			if d := t.Local().Format(dateLayout); d != lastDate {
				entries = append(entries, Entry{Kind: EntryDate, Date: d})
				lastDate = d
			}
		}
		entries = append(entries, Entry{
			Kind:     EntryMessage,
			Message:  msg,
			ShowSeen: i == labelIdx,
		})
	}
	return entries
}
