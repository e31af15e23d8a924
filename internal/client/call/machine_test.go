package call

import (
	"errors"
	"sync"
	"testing"

	"huddle/internal/client/media"
	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignaler struct {
	mu    sync.Mutex
	calls []string

	initiateErr error
	acceptErr   error
}

func (s *fakeSignaler) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
}

func (s *fakeSignaler) InitiateCall(payload domain.CallInitiatePayload) error {
	s.record("initiate")
	return s.initiateErr
}

func (s *fakeSignaler) AcceptCall(id domain.CallID) error {
	s.record("accept")
	return s.acceptErr
}

func (s *fakeSignaler) RejectCall(id domain.CallID) error {
	s.record("reject")
	return nil
}

func (s *fakeSignaler) EndCall(id domain.CallID) error {
	s.record("end")
	return nil
}

func (s *fakeSignaler) JoinCall(id domain.CallID) error {
	s.record("join")
	return nil
}

func (s *fakeSignaler) LeaveCall(id domain.CallID) error {
	s.record("leave")
	return nil
}

func (s *fakeSignaler) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakePeers struct {
	mu       sync.Mutex
	dialed   []domain.UserID
	closed   []domain.UserID
	closeAll int
	replaced int
	disabled map[media.TrackKind]bool
}

func newFakePeers() *fakePeers {
	return &fakePeers{disabled: make(map[media.TrackKind]bool)}
}

func (p *fakePeers) SetLocalStream(stream *media.Stream) {}

func (p *fakePeers) Dial(remote domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialed = append(p.dialed, remote)
	return nil
}

func (p *fakePeers) HandleSignal(from domain.UserID, raw []byte) error { return nil }

func (p *fakePeers) ReplaceVideoTrack(src media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaced++
	return nil
}

func (p *fakePeers) SetTrackEnabled(kind media.TrackKind, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled[kind] = !enabled
}

func (p *fakePeers) ClosePeer(remote domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, remote)
}

func (p *fakePeers) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAll++
}

func (p *fakePeers) dials() []domain.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserID(nil), p.dialed...)
}

func newMachineFixture(t *testing.T) (*Machine, *fakeSignaler, *fakePeers, *media.SyntheticDevices) {
	t.Helper()
	signaler := &fakeSignaler{}
	peers := newFakePeers()
	devices := media.NewSyntheticDevices()
	m := NewMachine("self", signaler, devices, peers, nil)
	t.Cleanup(func() { m.Close() })
	return m, signaler, peers, devices
}

func TestStartCallTransitionsToRingingOut(t *testing.T) {
	m, signaler, _, _ := newMachineFixture(t)

	err := m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, StateRingingOut, m.State())
	assert.Equal(t, []string{"initiate"}, signaler.sent())

	session := m.Session()
	require.NotNil(t, session)
	assert.ElementsMatch(t, []domain.UserID{"self", "bob"}, session.Participants)

	// A second outgoing call while one is in flight is refused.
	err = m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "carol"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestStartCallMediaFailureStaysIdle(t *testing.T) {
	m, signaler, _, devices := newMachineFixture(t)
	devices.FailUserMedia = errors.New("no camera")

	err := m.StartCall(domain.CallVideo, domain.CallInitiatePayload{TargetUserID: "bob"})
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State())
	// Nothing went on the wire before media was secured.
	assert.Empty(t, signaler.sent())
}

func TestIncomingAcceptFlow(t *testing.T) {
	m, signaler, peers, _ := newMachineFixture(t)

	m.HandleIncoming(&domain.CallSession{
		ID:           "c1",
		Kind:         domain.CallVideo,
		Status:       domain.CallRinging,
		CallerID:     "alice",
		Participants: []domain.UserID{"alice", "self"},
	})
	require.Equal(t, StateRingingIn, m.State())

	require.NoError(t, m.Accept())
	assert.Equal(t, StateOngoing, m.State())
	assert.Equal(t, []string{"accept"}, signaler.sent())
	// The accepting side opens the connections.
	assert.Equal(t, []domain.UserID{"alice"}, peers.dials())
}

func TestAcceptMediaFailureKeepsRinging(t *testing.T) {
	m, signaler, _, devices := newMachineFixture(t)

	m.HandleIncoming(&domain.CallSession{
		ID: "c1", Kind: domain.CallAudio, Participants: []domain.UserID{"alice", "self"},
	})
	require.Equal(t, StateRingingIn, m.State())

	devices.FailUserMedia = errors.New("mic busy")
	err := m.Accept()
	require.Error(t, err)
	assert.Equal(t, StateRingingIn, m.State())
	assert.Empty(t, signaler.sent())

	// Recovery: the device frees up and accept succeeds.
	devices.FailUserMedia = nil
	require.NoError(t, m.Accept())
	assert.Equal(t, StateOngoing, m.State())
}

func TestBusyMachineAutoRejectsSecondCall(t *testing.T) {
	m, signaler, _, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleIncoming(&domain.CallSession{
		ID: "c2", Kind: domain.CallAudio, Participants: []domain.UserID{"carol", "self"},
	})

	// State() flushes the posted event before reading.
	assert.Equal(t, StateRingingOut, m.State())
	assert.Equal(t, []string{"initiate", "reject"}, signaler.sent())
}

func TestAcceptedOutgoingCallDials(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")

	assert.Equal(t, StateOngoing, m.State())
	assert.Equal(t, []domain.UserID{"bob"}, peers.dials())
}

func TestHangUpDirectVersusGroup(t *testing.T) {
	m, signaler, peers, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")
	require.NoError(t, m.HangUp())
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, []string{"initiate", "end"}, signaler.sent())
	assert.Equal(t, 1, peers.closeAll)

	// Leaving a group call must not end it for everyone else.
	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{
		GroupID:      "g1",
		Participants: []domain.UserID{"bob", "carol"},
	}))
	m.HandleInitiated("c2")
	m.HandleAccepted("c2")
	require.NoError(t, m.HangUp())
	assert.Equal(t, []string{"initiate", "end", "initiate", "leave"}, signaler.sent())
}

func TestHangUpWithoutCallFails(t *testing.T) {
	m, _, _, _ := newMachineFixture(t)
	assert.ErrorIs(t, m.HangUp(), ErrNoActiveCall)
}

func TestRemoteEndIsIdempotent(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")

	m.HandleEnded("c1")
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, peers.closeAll)

	// A duplicate, or one for a call long gone, changes nothing.
	m.HandleEnded("c1")
	m.HandleEnded("stale")
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, peers.closeAll)
	assert.Nil(t, m.Session())
}

func TestEndedForOtherCallIgnored(t *testing.T) {
	m, _, _, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")

	m.HandleEnded("other")
	assert.Equal(t, StateRingingOut, m.State())
}

func TestParticipantChurn(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{
		GroupID:      "g1",
		Participants: []domain.UserID{"bob", "carol"},
	}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")

	m.HandleParticipantJoined("c1", "dave")
	session := m.Session()
	require.NotNil(t, session)
	assert.Contains(t, session.Participants, domain.UserID("dave"))
	// The joiner dials us; no connection is opened from this side.
	assert.NotContains(t, peers.dials(), domain.UserID("dave"))

	m.HandleParticipantLeft("c1", "dave")
	session = m.Session()
	assert.NotContains(t, session.Participants, domain.UserID("dave"))
	assert.Equal(t, []domain.UserID{"dave"}, peers.closed)
}

func TestScreenShareRequiresOngoingCall(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	assert.ErrorIs(t, m.StartScreenShare(), ErrInvalidTransition)

	require.NoError(t, m.StartCall(domain.CallVideo, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")

	require.NoError(t, m.StartScreenShare())
	// Already sharing: no second capture, no second swap.
	require.NoError(t, m.StartScreenShare())
	assert.Equal(t, 1, peers.replaced)

	// Stopping restores the camera track.
	require.NoError(t, m.StopScreenShare())
	assert.Equal(t, 2, peers.replaced)
}

func TestScreenShareSourceEndedRestoresCamera(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	require.NoError(t, m.StartCall(domain.CallVideo, domain.CallInitiatePayload{TargetUserID: "bob"}))
	m.HandleInitiated("c1")
	m.HandleAccepted("c1")
	require.NoError(t, m.StartScreenShare())

	var screen *media.Stream
	m.do(func() error {
		screen = m.screenStream
		return nil
	})
	require.NotNil(t, screen)

	// The capture ends from outside, as when the user hits the OS-level
	// stop-sharing control rather than the in-app one.
	screen.Close()

	// State() flushes the posted restore before reading.
	assert.Equal(t, StateOngoing, m.State())
	assert.Equal(t, 2, peers.replaced)
	m.do(func() error {
		assert.Nil(t, m.screenStream)
		return nil
	})
}

func TestMuteTogglesAudioTrack(t *testing.T) {
	m, _, peers, _ := newMachineFixture(t)

	assert.ErrorIs(t, m.SetMuted(true), ErrNoActiveCall)

	require.NoError(t, m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"}))
	require.NoError(t, m.SetMuted(true))

	peers.mu.Lock()
	muted := peers.disabled[media.TrackAudio]
	peers.mu.Unlock()
	assert.True(t, muted)
}

func TestJoinMeetingInstallsRoster(t *testing.T) {
	m, signaler, peers, _ := newMachineFixture(t)

	require.NoError(t, m.JoinMeeting("m1", domain.CallVideo))
	assert.Equal(t, []string{"join"}, signaler.sent())

	m.HandleJoined(&domain.CallSession{
		ID:           "m1",
		Kind:         domain.CallVideo,
		Status:       domain.CallOngoing,
		Participants: []domain.UserID{"host", "bob", "self"},
	})

	assert.Equal(t, StateOngoing, m.State())
	assert.ElementsMatch(t, []domain.UserID{"host", "bob"}, peers.dials())
}

func TestClosedMachineRefusesWork(t *testing.T) {
	signaler := &fakeSignaler{}
	m := NewMachine("self", signaler, media.NewSyntheticDevices(), newFakePeers(), nil)
	require.NoError(t, m.Close())

	err := m.StartCall(domain.CallAudio, domain.CallInitiatePayload{TargetUserID: "bob"})
	assert.ErrorIs(t, err, ErrMachineClosed)
}
