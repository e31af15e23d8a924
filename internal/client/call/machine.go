package call

import (
	"errors"
	"fmt"

	"huddle/internal/client/media"
	"huddle/internal/client/recorder"
	"huddle/internal/core/domain"
	rlog "huddle/pkg/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// State of the local call engine.
type State string

const (
	StateIdle       State = "idle"
	StateRingingOut State = "ringing-out"
	StateRingingIn  State = "ringing-in"
	StateOngoing    State = "ongoing"
	StateEnded      State = "ended"
)

var (
	ErrBusy              = errors.New("another call is in progress")
	ErrInvalidTransition = errors.New("operation not valid in current state")
	ErrNoActiveCall      = errors.New("no active call")
	ErrMachineClosed     = errors.New("call machine closed")
)

// Signaler is the machine's outbound path through the relay.
type Signaler interface {
	InitiateCall(payload domain.CallInitiatePayload) error
	AcceptCall(id domain.CallID) error
	RejectCall(id domain.CallID) error
	EndCall(id domain.CallID) error
	JoinCall(id domain.CallID) error
	LeaveCall(id domain.CallID) error
}

// Peers is the slice of the peer manager the machine drives.
type Peers interface {
	SetLocalStream(stream *media.Stream)
	Dial(remote domain.UserID) error
	HandleSignal(from domain.UserID, raw []byte) error
	ReplaceVideoTrack(src media.Track) error
	SetTrackEnabled(kind media.TrackKind, enabled bool)
	ClosePeer(remote domain.UserID)
	CloseAll()
}

// StateListener observes machine transitions. Called from the machine's own
// goroutine; must not call back into the machine synchronously.
type StateListener func(state State, session *domain.CallSession)

// Machine is the client-side call engine. A single goroutine owns all
// mutable state; public methods and relay events are serialized through its
// task queue, so no transition ever races another.
type Machine struct {
	selfID   domain.UserID
	signaler Signaler
	devices  media.Devices
	peers    Peers
	recorder *recorder.Recorder // optional

	tasks chan func()
	done  chan struct{}

	// owned by the run goroutine
	state        State
	session      *domain.CallSession
	localStream  *media.Stream
	screenStream *media.Stream

	listener StateListener
	logger   *zap.SugaredLogger
}

func NewMachine(selfID domain.UserID, signaler Signaler, devices media.Devices, peers Peers, rec *recorder.Recorder) *Machine {
	m := &Machine{
		selfID:   selfID,
		signaler: signaler,
		devices:  devices,
		peers:    peers,
		recorder: rec,
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
		state:    StateIdle,
		logger:   rlog.New("info").Sugar(),
	}
	go m.run()
	return m
}

// SetStateListener installs the transition observer. Call before any
// operation.
func (m *Machine) SetStateListener(fn StateListener) {
	m.listener = fn
}

func (m *Machine) run() {
	for {
		select {
		case task := <-m.tasks:
			task()
		case <-m.done:
			return
		}
	}
}

// do runs fn on the machine goroutine and waits for its result.
func (m *Machine) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.tasks <- func() { reply <- fn() }:
	case <-m.done:
		return ErrMachineClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrMachineClosed
	}
}

// post queues fn without waiting; used for relay events.
func (m *Machine) post(fn func()) {
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// State reports the current state.
func (m *Machine) State() State {
	var state State
	m.do(func() error {
		state = m.state
		return nil
	})
	return state
}

// Session returns a snapshot of the active session, or nil.
func (m *Machine) Session() *domain.CallSession {
	var session *domain.CallSession
	m.do(func() error {
		if m.session != nil {
			session = m.session.Snapshot()
		}
		return nil
	})
	return session
}

// Close shuts the machine down, ending any active call first.
func (m *Machine) Close() error {
	err := m.do(func() error {
		if m.state != StateIdle {
			m.teardown()
			m.setState(StateIdle)
		}
		return nil
	})
	close(m.done)
	return err
}

// StartCall begins an outgoing call. Media is acquired before anything goes
// on the wire; acquisition failure leaves the machine idle.
func (m *Machine) StartCall(kind domain.CallKind, req domain.CallInitiatePayload) error {
	return m.do(func() error {
		if m.state != StateIdle {
			return ErrBusy
		}

		req.Kind = kind
		stream, err := m.devices.CaptureUserMedia(true, kind == domain.CallVideo)
		if err != nil {
			return fmt.Errorf("failed to acquire media: %w", err)
		}

		if err := m.signaler.InitiateCall(req); err != nil {
			stream.Close()
			return fmt.Errorf("failed to initiate call: %w", err)
		}

		m.localStream = stream
		m.peers.SetLocalStream(stream)

		// Roster is provisional until the server acks with the session id.
		participants := []domain.UserID{m.selfID}
		if req.TargetUserID != "" {
			participants = append(participants, req.TargetUserID)
		} else {
			for _, id := range req.Participants {
				if id != m.selfID {
					participants = append(participants, id)
				}
			}
		}
		m.session = &domain.CallSession{
			Kind:         kind,
			Status:       domain.CallRinging,
			CallerID:     m.selfID,
			Participants: participants,
			GroupID:      req.GroupID,
		}
		m.setState(StateRingingOut)
		return nil
	})
}

// Accept answers an incoming call. On media failure the transition rolls
// back and the call keeps ringing.
func (m *Machine) Accept() error {
	return m.do(func() error {
		if m.state != StateRingingIn {
			return ErrInvalidTransition
		}

		stream, err := m.devices.CaptureUserMedia(true, m.session.Kind == domain.CallVideo)
		if err != nil {
			return fmt.Errorf("failed to acquire media: %w", err)
		}

		if err := m.signaler.AcceptCall(m.session.ID); err != nil {
			stream.Close()
			return fmt.Errorf("failed to accept call: %w", err)
		}

		m.localStream = stream
		m.peers.SetLocalStream(stream)
		m.setState(StateOngoing)

		// The accepting side dials everyone already on the roster.
		m.dialOthers()
		return nil
	})
}

// Reject declines an incoming call.
func (m *Machine) Reject() error {
	return m.do(func() error {
		if m.state != StateRingingIn {
			return ErrInvalidTransition
		}
		if err := m.signaler.RejectCall(m.session.ID); err != nil {
			return fmt.Errorf("failed to reject call: %w", err)
		}
		m.teardown()
		m.setState(StateIdle)
		return nil
	})
}

// HangUp ends or leaves the active call.
func (m *Machine) HangUp() error {
	return m.do(func() error {
		switch m.state {
		case StateRingingOut, StateOngoing:
		case StateRingingIn:
			if err := m.signaler.RejectCall(m.session.ID); err != nil {
				return fmt.Errorf("failed to reject call: %w", err)
			}
			m.teardown()
			m.setState(StateIdle)
			return nil
		default:
			return ErrNoActiveCall
		}

		// Recording finishes before anything is torn down.
		m.finalizeRecording()

		if m.session != nil && m.session.ID != "" {
			var err error
			if m.session.GroupID != "" {
				err = m.signaler.LeaveCall(m.session.ID)
			} else {
				err = m.signaler.EndCall(m.session.ID)
			}
			if err != nil {
				m.logger.Warnw("failed to signal hangup", "call_id", m.session.ID, "error", err)
			}
		}

		m.teardown()
		m.setState(StateEnded)
		m.setState(StateIdle)
		return nil
	})
}

// JoinMeeting joins an ongoing group meeting.
func (m *Machine) JoinMeeting(callID domain.CallID, kind domain.CallKind) error {
	return m.do(func() error {
		if m.state != StateIdle {
			return ErrBusy
		}

		stream, err := m.devices.CaptureUserMedia(true, kind == domain.CallVideo)
		if err != nil {
			return fmt.Errorf("failed to acquire media: %w", err)
		}
		if err := m.signaler.JoinCall(callID); err != nil {
			stream.Close()
			return fmt.Errorf("failed to join call: %w", err)
		}

		m.localStream = stream
		m.peers.SetLocalStream(stream)
		m.session = &domain.CallSession{ID: callID, Kind: kind, Status: domain.CallOngoing}
		m.setState(StateRingingOut)
		return nil
	})
}

// SetMuted toggles the outbound audio track.
func (m *Machine) SetMuted(muted bool) error {
	return m.do(func() error {
		if m.localStream == nil {
			return ErrNoActiveCall
		}
		m.peers.SetTrackEnabled(media.TrackAudio, !muted)
		return nil
	})
}

// SetVideoEnabled toggles the outbound camera track.
func (m *Machine) SetVideoEnabled(enabled bool) error {
	return m.do(func() error {
		if m.localStream == nil {
			return ErrNoActiveCall
		}
		m.peers.SetTrackEnabled(media.TrackVideo, enabled)
		return nil
	})
}

// StartScreenShare replaces the outbound video with a display capture.
func (m *Machine) StartScreenShare() error {
	return m.do(func() error {
		if m.state != StateOngoing {
			return ErrInvalidTransition
		}
		if m.screenStream != nil {
			return nil
		}

		stream, err := m.devices.CaptureDisplay()
		if err != nil {
			return fmt.Errorf("failed to capture display: %w", err)
		}
		track := stream.VideoTrack()
		if track == nil {
			stream.Close()
			return errors.New("display capture has no video track")
		}
		if err := m.peers.ReplaceVideoTrack(track); err != nil {
			stream.Close()
			return err
		}
		m.screenStream = stream

		// The capture source can end on its own, typically the user hitting
		// the browser or OS stop-sharing control. The camera comes back
		// without an explicit StopScreenShare.
		track.OnEnded(func() {
			m.post(func() {
				if m.screenStream != stream {
					return
				}
				if err := m.restoreCamera(); err != nil {
					m.logger.Warnw("failed to restore camera after share ended", "error", err)
				}
			})
		})
		return nil
	})
}

// StopScreenShare restores the camera track on every peer.
func (m *Machine) StopScreenShare() error {
	return m.do(func() error { return m.restoreCamera() })
}

// restoreCamera drops the display stream and puts the camera back on every
// sender. No-op without an active share.
func (m *Machine) restoreCamera() error {
	if m.screenStream == nil {
		return nil
	}
	m.screenStream.Close()
	m.screenStream = nil

	if m.localStream != nil {
		if camera := m.localStream.VideoTrack(); camera != nil {
			return m.peers.ReplaceVideoTrack(camera)
		}
	}
	return nil
}

// StartRecording begins capturing remote media to disk.
func (m *Machine) StartRecording() error {
	return m.do(func() error {
		if m.recorder == nil {
			return errors.New("no recorder configured")
		}
		if m.state != StateOngoing {
			return ErrInvalidTransition
		}
		return m.recorder.Start(m.session.ID)
	})
}

// StopRecording finalizes the active recording.
func (m *Machine) StopRecording() error {
	return m.do(func() error {
		if m.recorder == nil {
			return nil
		}
		return m.recorder.Finalize()
	})
}

// Relay event entry points. All are posted to the machine goroutine and are
// safe to call from the transport's read loop.

// HandleInitiated records the session id acked by the server.
func (m *Machine) HandleInitiated(callID domain.CallID) {
	m.post(func() {
		if m.state != StateRingingOut || m.session == nil {
			return
		}
		m.session.ID = callID
	})
}

// HandleIncoming presents a ringing call. A machine that is already busy
// rejects it immediately.
func (m *Machine) HandleIncoming(session *domain.CallSession) {
	m.post(func() {
		if m.state != StateIdle {
			if err := m.signaler.RejectCall(session.ID); err != nil {
				m.logger.Warnw("failed to auto-reject while busy", "call_id", session.ID, "error", err)
			}
			return
		}
		m.session = session
		m.setState(StateRingingIn)
	})
}

// HandleAccepted moves an outgoing call to ongoing and dials the roster.
func (m *Machine) HandleAccepted(callID domain.CallID) {
	m.post(func() {
		if m.state != StateRingingOut || !m.isCurrent(callID) {
			return
		}
		m.session.Status = domain.CallOngoing
		m.setState(StateOngoing)
		m.dialOthers()
	})
}

// HandleJoined installs the roster snapshot after joining a meeting.
func (m *Machine) HandleJoined(session *domain.CallSession) {
	m.post(func() {
		if m.state != StateRingingOut || !m.isCurrent(session.ID) {
			return
		}
		m.session = session
		m.setState(StateOngoing)
		m.dialOthers()
	})
}

// HandleRejected ends an outgoing call the remote declined.
func (m *Machine) HandleRejected(callID domain.CallID) {
	m.post(func() { m.remoteEnd(callID) })
}

// HandleEnded tears the call down. Receiving it twice, or after the machine
// already reset, is a no-op.
func (m *Machine) HandleEnded(callID domain.CallID) {
	m.post(func() { m.remoteEnd(callID) })
}

// HandleParticipantJoined adds the user to the roster. The joiner dials us,
// so no connection is opened from this side.
func (m *Machine) HandleParticipantJoined(callID domain.CallID, userID domain.UserID) {
	m.post(func() {
		if m.state != StateOngoing || !m.isCurrent(callID) {
			return
		}
		m.session.AddParticipant(userID)
	})
}

// HandleParticipantLeft closes the departed participant's connection.
func (m *Machine) HandleParticipantLeft(callID domain.CallID, userID domain.UserID) {
	m.post(func() {
		if !m.isCurrent(callID) {
			return
		}
		m.session.RemoveParticipant(userID)
		m.peers.ClosePeer(userID)
	})
}

// HandleSignal forwards a peer signaling payload.
func (m *Machine) HandleSignal(from domain.UserID, raw []byte) {
	m.post(func() {
		if m.state == StateIdle {
			return
		}
		if err := m.peers.HandleSignal(from, raw); err != nil {
			m.logger.Warnw("failed to apply signal", "from", from, "error", err)
		}
	})
}

// HandleRemoteTrack consumes an inbound track: packets feed the recorder
// while one is active and are discarded otherwise. It blocks until the
// track ends, so run it from the peer manager's track callback goroutine.
func (m *Machine) HandleRemoteTrack(from domain.UserID, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if m.recorder != nil && m.recorder.Active() {
			if err := m.recorder.WritePacket(track.ID(), pkt); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
				m.logger.Warnw("failed to record packet", "track_id", track.ID(), "error", err)
			}
		}
	}
}

func (m *Machine) remoteEnd(callID domain.CallID) {
	if m.state == StateIdle || !m.isCurrent(callID) {
		return
	}
	m.finalizeRecording()
	m.teardown()
	m.setState(StateEnded)
	m.setState(StateIdle)
}

func (m *Machine) isCurrent(callID domain.CallID) bool {
	return m.session != nil && (m.session.ID == callID || m.session.ID == "")
}

func (m *Machine) dialOthers() {
	for _, other := range m.session.Others(m.selfID) {
		if err := m.peers.Dial(other); err != nil {
			m.logger.Warnw("failed to dial participant", "user_id", other, "error", err)
		}
	}
}

func (m *Machine) finalizeRecording() {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Finalize(); err != nil {
		m.logger.Errorw("failed to finalize recording", "error", err)
	}
}

// teardown releases peers and media. The recorder must already be final.
func (m *Machine) teardown() {
	m.peers.CloseAll()
	if m.screenStream != nil {
		m.screenStream.Close()
		m.screenStream = nil
	}
	if m.localStream != nil {
		m.localStream.Close()
		m.localStream = nil
	}
	m.session = nil
}

func (m *Machine) setState(state State) {
	if m.state == state {
		return
	}
	m.state = state
	m.logger.Infow("call state changed", "state", state)
	if m.listener != nil {
		var snapshot *domain.CallSession
		if m.session != nil {
			snapshot = m.session.Snapshot()
		}
		m.listener(state, snapshot)
	}
}
