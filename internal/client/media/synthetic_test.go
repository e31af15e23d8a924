package media

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureUserMediaTrackSelection(t *testing.T) {
	devices := NewSyntheticDevices()

	stream, err := devices.CaptureUserMedia(true, true)
	require.NoError(t, err)
	defer stream.Close()

	require.Len(t, stream.Tracks(), 2)
	require.NotNil(t, stream.AudioTrack())
	require.NotNil(t, stream.VideoTrack())
	assert.Equal(t, webrtc.MimeTypeOpus, stream.AudioTrack().MimeType())
	assert.Equal(t, webrtc.MimeTypeVP8, stream.VideoTrack().MimeType())

	audioOnly, err := devices.CaptureUserMedia(true, false)
	require.NoError(t, err)
	defer audioOnly.Close()
	assert.Len(t, audioOnly.Tracks(), 1)
	assert.Nil(t, audioOnly.VideoTrack())
}

func TestCaptureFailureInjection(t *testing.T) {
	devices := NewSyntheticDevices()
	devices.FailUserMedia = errors.New("mic busy")
	devices.FailDisplay = errors.New("no display")

	_, err := devices.CaptureUserMedia(true, false)
	assert.EqualError(t, err, "mic busy")
	_, err = devices.CaptureDisplay()
	assert.EqualError(t, err, "no display")
}

func TestSyntheticTrackProducesMonotonicPackets(t *testing.T) {
	devices := NewSyntheticDevices()
	stream, err := devices.CaptureUserMedia(true, false)
	require.NoError(t, err)
	defer stream.Close()

	track := stream.AudioTrack()
	first, err := track.ReadRTP()
	require.NoError(t, err)
	second, err := track.ReadRTP()
	require.NoError(t, err)

	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Greater(t, second.Timestamp, first.Timestamp)
	assert.Equal(t, first.SSRC, second.SSRC)
}

func TestClosedTrackStopsReading(t *testing.T) {
	devices := NewSyntheticDevices()
	stream, err := devices.CaptureUserMedia(true, false)
	require.NoError(t, err)

	track := stream.AudioTrack()
	require.True(t, track.Enabled())
	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	require.NoError(t, stream.Close())
	_, err = track.ReadRTP()
	assert.ErrorIs(t, err, ErrTrackClosed)
}

func TestOnEndedFiresOnClose(t *testing.T) {
	devices := NewSyntheticDevices()
	stream, err := devices.CaptureDisplay()
	require.NoError(t, err)

	track := stream.VideoTrack()
	fired := 0
	track.OnEnded(func() { fired++ })

	require.NoError(t, track.Close())
	assert.Equal(t, 1, fired)
	// Closing again does not refire.
	require.NoError(t, track.Close())
	assert.Equal(t, 1, fired)

	// Registration on a track already ended fires immediately.
	late := 0
	track.OnEnded(func() { late++ })
	assert.Equal(t, 1, late)
}
