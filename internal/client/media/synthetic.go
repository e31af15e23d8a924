package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// SyntheticDevices generates silence and blank frames on a wall-clock
// schedule. It backs tests and headless runs where no capture hardware
// exists.
type SyntheticDevices struct {
	// FailUserMedia and FailDisplay force acquisition errors.
	FailUserMedia error
	FailDisplay   error
}

func NewSyntheticDevices() *SyntheticDevices {
	return &SyntheticDevices{}
}

func (d *SyntheticDevices) CaptureUserMedia(audio, video bool) (*Stream, error) {
	if d.FailUserMedia != nil {
		return nil, d.FailUserMedia
	}

	var tracks []Track
	if audio {
		tracks = append(tracks, newSyntheticTrack(TrackAudio, webrtc.MimeTypeOpus, 48000, 20*time.Millisecond))
	}
	if video {
		tracks = append(tracks, newSyntheticTrack(TrackVideo, webrtc.MimeTypeVP8, 90000, 33*time.Millisecond))
	}
	return NewStream(uuid.NewString(), tracks...), nil
}

func (d *SyntheticDevices) CaptureDisplay() (*Stream, error) {
	if d.FailDisplay != nil {
		return nil, d.FailDisplay
	}
	track := newSyntheticTrack(TrackVideo, webrtc.MimeTypeVP8, 90000, 33*time.Millisecond)
	return NewStream(uuid.NewString(), track), nil
}

type syntheticTrack struct {
	id        string
	kind      TrackKind
	mimeType  string
	clockRate uint32
	interval  time.Duration

	enabled atomic.Bool

	mu       sync.Mutex
	seq      uint16
	ts       uint32
	ssrc     uint32
	onEnded  func()
	closed   chan struct{}
	closeOne sync.Once
}

func newSyntheticTrack(kind TrackKind, mimeType string, clockRate uint32, interval time.Duration) *syntheticTrack {
	t := &syntheticTrack{
		id:        uuid.NewString(),
		kind:      kind,
		mimeType:  mimeType,
		clockRate: clockRate,
		interval:  interval,
		ssrc:      uuid.New().ID(),
		closed:    make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *syntheticTrack) ID() string              { return t.id }
func (t *syntheticTrack) Kind() TrackKind         { return t.kind }
func (t *syntheticTrack) MimeType() string        { return t.mimeType }
func (t *syntheticTrack) ClockRate() uint32       { return t.clockRate }
func (t *syntheticTrack) Enabled() bool           { return t.enabled.Load() }
func (t *syntheticTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *syntheticTrack) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-t.closed:
		return nil, ErrTrackClosed
	case <-time.After(t.interval):
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.ts += uint32(t.interval.Seconds() * float64(t.clockRate))

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: t.seq,
			Timestamp:      t.ts,
			SSRC:           t.ssrc,
		},
		Payload: make([]byte, 160),
	}, nil
}

func (t *syntheticTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()

	select {
	case <-t.closed:
		fn()
	default:
	}
}

func (t *syntheticTrack) Close() error {
	t.closeOne.Do(func() {
		close(t.closed)
		t.mu.Lock()
		fn := t.onEnded
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return nil
}
