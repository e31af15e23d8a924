package domain

import "time"

type CallID string

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallOngoing CallStatus = "ongoing"
	CallEnded   CallStatus = "ended"
)

// CallSession is the live record of one call. A session with status ended is
// never mutated again and is removed from the active set in the same step
// that sets the status.
type CallSession struct {
	ID           CallID     `json:"id"`
	Kind         CallKind   `json:"type"`
	Status       CallStatus `json:"status"`
	CallerID     UserID     `json:"callerId"`
	Participants []UserID   `json:"participants"`
	GroupID      string     `json:"groupId,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// HasParticipant reports whether userID is on the roster.
func (c *CallSession) HasParticipant(userID UserID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// AddParticipant appends userID if not already present and reports whether
// the roster changed.
func (c *CallSession) AddParticipant(userID UserID) bool {
	if c.HasParticipant(userID) {
		return false
	}
	c.Participants = append(c.Participants, userID)
	return true
}

// RemoveParticipant removes userID and reports whether the roster changed.
func (c *CallSession) RemoveParticipant(userID UserID) bool {
	for i, id := range c.Participants {
		if id == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// Others returns the roster without userID.
func (c *CallSession) Others(userID UserID) []UserID {
	others := make([]UserID, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// Snapshot returns a deep copy safe to hand to broadcasts after the
// session lock is released.
func (c *CallSession) Snapshot() *CallSession {
	cp := *c
	cp.Participants = append([]UserID(nil), c.Participants...)
	return &cp
}
