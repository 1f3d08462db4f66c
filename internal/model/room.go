package model

// Room is a two-party conversation. Participant fields may be empty when the
// room-listing endpoint did not carry them; the session controller then falls
// back to resolving the counterpart from the message log.
type Room struct {
	ID              string `json:"id"`
	ParticipantAID  string `json:"participant_a_id"`
	ParticipantBID  string `json:"participant_b_id"`
	CounterpartName string `json:"counterpart_name,omitempty"`
	ListingID       string `json:"listing_id,omitempty"`
}

// Counterpart returns the participant that is not selfID, or "" when the
// room metadata does not carry both participants.
func (r Room) Counterpart(selfID string) string {
	self := CanonicalID(selfID)
	switch {
	case r.ParticipantAID != "" && CanonicalID(r.ParticipantAID) != self:
		return r.ParticipantAID
	case r.ParticipantBID != "" && CanonicalID(r.ParticipantBID) != self:
		return r.ParticipantBID
	}
	return ""
}
