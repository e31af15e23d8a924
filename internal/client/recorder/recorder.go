package recorder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"huddle/internal/core/domain"
	rlog "huddle/pkg/logger"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

var ErrNotRecording = errors.New("recorder is not active")

// Recorder persists the RTP packets of a call as rotating chunk files plus
// a manifest. Packets are length-prefixed inside each chunk. Finalize must
// complete before the call's peers are torn down so no tail is lost.
type Recorder struct {
	outputPath    string
	chunkDuration time.Duration

	mu        sync.Mutex
	callID    domain.CallID
	startedAt time.Time
	active    bool
	writers   map[string]*chunkWriter

	logger *zap.SugaredLogger
}

// Chunk describes one finished chunk file in the manifest.
type Chunk struct {
	TrackID   string        `json:"trackId"`
	Index     int           `json:"index"`
	FilePath  string        `json:"filePath"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Size      int64         `json:"size"`
	Packets   int           `json:"packets"`
}

// Manifest is written next to the chunks when the recording finalizes.
type Manifest struct {
	CallID    domain.CallID `json:"callId"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Chunks    []Chunk       `json:"chunks"`
}

type chunkWriter struct {
	trackID string
	dir     string

	file    *os.File
	index   int
	started time.Time
	size    int64
	packets int

	finished []Chunk
}

func New(outputPath string, chunkDuration time.Duration) *Recorder {
	if chunkDuration <= 0 {
		chunkDuration = 6 * time.Second
	}
	return &Recorder{
		outputPath:    outputPath,
		chunkDuration: chunkDuration,
		writers:       make(map[string]*chunkWriter),
		logger:        rlog.New("info").Sugar(),
	}
}

// Start begins a recording for the call. Only one recording runs at a time.
func (r *Recorder) Start(callID domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return fmt.Errorf("recording already active for call %s", r.callID)
	}

	dir := filepath.Join(r.outputPath, string(callID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	r.callID = callID
	r.startedAt = time.Now()
	r.active = true
	r.writers = make(map[string]*chunkWriter)

	r.logger.Infow("recording started", "call_id", callID, "dir", dir)
	return nil
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// WritePacket appends one packet to the track's current chunk, rotating the
// chunk when it exceeds the configured duration.
func (r *Recorder) WritePacket(trackID string, pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return ErrNotRecording
	}

	w, ok := r.writers[trackID]
	if !ok {
		w = &chunkWriter{
			trackID: trackID,
			dir:     filepath.Join(r.outputPath, string(r.callID)),
		}
		r.writers[trackID] = w
	}

	if w.file != nil && time.Since(w.started) >= r.chunkDuration {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal packet: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.file.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	w.size += int64(len(prefix) + len(data))
	w.packets++
	return nil
}

// Finalize flushes every open chunk and writes the manifest. Idempotent; a
// second call returns nil without touching disk.
func (r *Recorder) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}
	r.active = false

	manifest := Manifest{
		CallID:    r.callID,
		StartedAt: r.startedAt,
		EndedAt:   time.Now(),
	}

	var firstErr error
	for _, w := range r.writers {
		if err := w.rotate(); err != nil && firstErr == nil {
			firstErr = err
		}
		manifest.Chunks = append(manifest.Chunks, w.finished...)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	manifestPath := filepath.Join(r.outputPath, string(r.callID), "manifest.json")
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	r.logger.Infow("recording finalized",
		"call_id", r.callID, "chunks", len(manifest.Chunks), "manifest", manifestPath)
	return firstErr
}

func (w *chunkWriter) open() error {
	name := fmt.Sprintf("%s-%d.rtpchunk", w.trackID, w.index)
	file, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	w.file = file
	w.started = time.Now()
	w.size = 0
	w.packets = 0
	return nil
}

// rotate closes the current chunk and records it as finished.
func (w *chunkWriter) rotate() error {
	if w.file == nil {
		return nil
	}
	path := w.file.Name()
	err := w.file.Close()
	w.file = nil

	w.finished = append(w.finished, Chunk{
		TrackID:   w.trackID,
		Index:     w.index,
		FilePath:  path,
		StartTime: w.started,
		Duration:  time.Since(w.started),
		Size:      w.size,
		Packets:   w.packets,
	})
	w.index++

	if err != nil {
		return fmt.Errorf("failed to close chunk file: %w", err)
	}
	return nil
}
