package session

import (
	"fmt"
	"time"

	"github.com/roomchat/internal/model"
)

// StatusText derives the header status line. Priority: typing beats online
// beats last-seen recency beats plain offline; an unresolved counterpart has
// no status at all.
func StatusText(resolved, counterpartTyping bool, p model.Presence, now time.Time) string {
	if !resolved {
		return "status unavailable"
	}
	if counterpartTyping {
		return "typing"
	}
	if p.Online {
		return "online"
	}
	if last := p.LastSeen(); !last.IsZero() {
		return lastSeenText(last, now)
	}
	return "offline"
}

func lastSeenText(last, now time.Time) string {
	minutes := int(now.Sub(last).Minutes())
	switch {
	case minutes < 1:
		return "just now"
	case minutes < 60:
		return fmt.Sprintf("%d minutes ago", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("%d hours ago", minutes/60)
	default:
		return fmt.Sprintf("%d days ago", minutes/(24*60))
	}
}
