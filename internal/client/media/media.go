package media

import (
	"errors"

	"github.com/pion/rtp"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

var ErrTrackClosed = errors.New("track closed")

// Track is a unidirectional packetized media source. The peer layer drains
// it with ReadRTP and pumps the packets into outbound senders. Disabling a
// track keeps it alive but marks its packets droppable (mute, camera off).
type Track interface {
	ID() string
	Kind() TrackKind
	// MimeType in the webrtc registry form, e.g. "audio/opus", "video/VP8".
	MimeType() string
	ClockRate() uint32
	Enabled() bool
	SetEnabled(enabled bool)
	// ReadRTP blocks until the next packet or returns ErrTrackClosed.
	ReadRTP() (*rtp.Packet, error)
	// OnEnded registers fn to run once when the track stops producing,
	// whether closed locally or by the capture source going away. A track
	// that already ended invokes fn immediately.
	OnEnded(fn func())
	Close() error
}

// Stream groups the tracks of one capture (a mic+camera acquisition, or a
// display capture).
type Stream struct {
	ID     string
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	return s.tracks
}

func (s *Stream) AudioTrack() Track {
	return s.trackOfKind(TrackAudio)
}

func (s *Stream) VideoTrack() Track {
	return s.trackOfKind(TrackVideo)
}

func (s *Stream) trackOfKind(kind TrackKind) Track {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Close stops every track of the stream.
func (s *Stream) Close() error {
	var firstErr error
	for _, t := range s.tracks {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Devices is the capture entry point. Hardware capture lives behind this
// interface so the call machine runs unchanged against synthetic sources.
type Devices interface {
	// CaptureUserMedia acquires microphone and, when video is set, camera
	// tracks as one stream. Either both requested tracks are acquired or an
	// error is returned and nothing is held.
	CaptureUserMedia(audio, video bool) (*Stream, error)
	// CaptureDisplay acquires a screen capture video stream.
	CaptureDisplay() (*Stream, error)
}
