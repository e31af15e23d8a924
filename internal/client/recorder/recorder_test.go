package recorder

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           0x1234,
		},
		Payload: make([]byte, 160),
	}
}

func TestRecorderWritesChunksAndManifest(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir, time.Hour)

	require.NoError(t, rec.Start("c1"))
	require.True(t, rec.Active())

	for seq := uint16(1); seq <= 10; seq++ {
		require.NoError(t, rec.WritePacket("audio-1", testPacket(seq)))
	}
	require.NoError(t, rec.Finalize())
	assert.False(t, rec.Active())

	raw, err := os.ReadFile(filepath.Join(dir, "c1", "manifest.json"))
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	require.Len(t, manifest.Chunks, 1)
	chunk := manifest.Chunks[0]
	assert.Equal(t, "audio-1", chunk.TrackID)
	assert.Equal(t, 10, chunk.Packets)
	assert.False(t, manifest.EndedAt.Before(manifest.StartedAt))

	// Chunk packets are length-prefixed and round-trip back to valid RTP.
	data, err := os.ReadFile(chunk.FilePath)
	require.NoError(t, err)
	require.Equal(t, chunk.Size, int64(len(data)))

	count := 0
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 4)
		size := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		require.GreaterOrEqual(t, len(data), int(size))

		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(data[:size]))
		count++
		assert.Equal(t, uint16(count), pkt.SequenceNumber)
		data = data[size:]
	}
	assert.Equal(t, 10, count)
}

func TestRecorderRotatesChunks(t *testing.T) {
	rec := New(t.TempDir(), time.Nanosecond)

	require.NoError(t, rec.Start("c1"))
	require.NoError(t, rec.WritePacket("video-1", testPacket(1)))
	time.Sleep(time.Millisecond)
	require.NoError(t, rec.WritePacket("video-1", testPacket(2)))
	require.NoError(t, rec.Finalize())

	rec.mu.Lock()
	finished := rec.writers["video-1"].finished
	rec.mu.Unlock()
	require.Len(t, finished, 2)
	assert.Equal(t, 0, finished[0].Index)
	assert.Equal(t, 1, finished[1].Index)
}

func TestRecorderRefusesWritesWhenInactive(t *testing.T) {
	rec := New(t.TempDir(), time.Hour)
	assert.ErrorIs(t, rec.WritePacket("audio-1", testPacket(1)), ErrNotRecording)
}

func TestRecorderFinalizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir, time.Hour)

	require.NoError(t, rec.Start("c1"))
	require.NoError(t, rec.WritePacket("audio-1", testPacket(1)))
	require.NoError(t, rec.Finalize())

	info, err := os.Stat(filepath.Join(dir, "c1", "manifest.json"))
	require.NoError(t, err)
	written := info.ModTime()

	// The second finalize (relay end racing local hangup) touches nothing.
	require.NoError(t, rec.Finalize())
	info, err = os.Stat(filepath.Join(dir, "c1", "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, written, info.ModTime())
}

func TestRecorderRejectsConcurrentRecording(t *testing.T) {
	rec := New(t.TempDir(), time.Hour)
	require.NoError(t, rec.Start("c1"))
	assert.Error(t, rec.Start("c2"))

	require.NoError(t, rec.Finalize())
	require.NoError(t, rec.Start("c2"))
}
