package peer

import (
	"encoding/json"

	"huddle/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Signal is the payload carried opaquely by the relay inside webrtc:signal
// events. Only the two endpoints interpret it.
type Signal struct {
	Type      string                     `json:"type"` // offer | answer | candidate
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func (s Signal) encode() (json.RawMessage, error) {
	return json.Marshal(s)
}

func decodeSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// SignalSender carries a signal toward one remote user through the relay.
type SignalSender interface {
	SendSignal(target domain.UserID, signal json.RawMessage) error
}
