package client

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/client/call"
	"huddle/internal/client/media"
	"huddle/internal/client/peer"
	"huddle/internal/client/recorder"
	"huddle/internal/client/transport"
	"huddle/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Options configures a client engine.
type Options struct {
	// Endpoint is the relay websocket URL, e.g. "ws://localhost:8080/ws".
	Endpoint string
	Token    string
	SelfID   domain.UserID

	ICEServers []webrtc.ICEServer
	Devices    media.Devices

	// RecordingPath enables call recording when non-empty.
	RecordingPath     string
	RecordingChunkLen time.Duration

	Chat transport.ChatEvents
}

// Engine ties the transport, the peer manager and the call machine into one
// connected client.
type Engine struct {
	Transport *transport.Client
	Peers     *peer.Manager
	Calls     *call.Machine
}

// Connect dials the relay and assembles the engine. Run must be called to
// start processing events.
func Connect(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Devices == nil {
		opts.Devices = media.NewSyntheticDevices()
	}

	tc, err := transport.Dial(ctx, opts.Endpoint, opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	var rec *recorder.Recorder
	if opts.RecordingPath != "" {
		rec = recorder.New(opts.RecordingPath, opts.RecordingChunkLen)
	}

	// The track handler closes over the machine pointer; tracks cannot
	// arrive before Run starts, by which point the machine exists.
	var machine *call.Machine
	peers := peer.NewManager(
		peer.Config{ICEServers: opts.ICEServers},
		tc,
		func(from domain.UserID, track *webrtc.TrackRemote) {
			machine.HandleRemoteTrack(from, track)
		},
	)
	machine = call.NewMachine(opts.SelfID, tc, opts.Devices, peers, rec)

	tc.Bind(machine, opts.Chat)

	return &Engine{
		Transport: tc,
		Peers:     peers,
		Calls:     machine,
	}, nil
}

// Run blocks processing relay events until the connection drops or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.Transport.Run(ctx)
}

// Close shuts everything down, ending any active call first.
func (e *Engine) Close() error {
	e.Calls.Close()
	return e.Transport.Close()
}
