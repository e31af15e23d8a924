package peer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"huddle/internal/client/media"
	"huddle/internal/core/domain"
	rlog "huddle/pkg/logger"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

var ErrPeerNotFound = errors.New("peer not found")

// Config carries the ICE servers used for every peer connection.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// RemoteTrackHandler receives each inbound track as it arrives.
type RemoteTrackHandler func(from domain.UserID, track *webrtc.TrackRemote)

// Manager keeps one peer connection per remote participant and pumps the
// local stream's tracks out over each of them. Offers flow from the side
// that dials; answers and candidates come back through HandleSignal.
type Manager struct {
	config webrtc.Configuration
	sender SignalSender

	mu    sync.Mutex
	local *media.Stream
	peers map[domain.UserID]*peerLink

	onRemoteTrack RemoteTrackHandler
	logger        *zap.SugaredLogger
}

// peerLink is one remote participant's connection plus its outbound tracks.
type peerLink struct {
	userID  domain.UserID
	pc      *webrtc.PeerConnection
	senders map[media.TrackKind]*webrtc.RTPSender
	pumps   map[media.TrackKind]*trackPump
}

// trackPump drains a local media track into an outbound RTP track until
// stopped. Disabled tracks are drained but not forwarded.
type trackPump struct {
	stop chan struct{}
	once sync.Once
}

func (p *trackPump) halt() {
	p.once.Do(func() { close(p.stop) })
}

func NewManager(cfg Config, sender SignalSender, onRemoteTrack RemoteTrackHandler) *Manager {
	return &Manager{
		config:        webrtc.Configuration{ICEServers: cfg.ICEServers, SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback},
		sender:        sender,
		peers:         make(map[domain.UserID]*peerLink),
		onRemoteTrack: onRemoteTrack,
		logger:        rlog.New("info").Sugar(),
	}
}

// SetLocalStream installs the stream pumped to every subsequently dialed
// peer. Must be set before Dial.
func (m *Manager) SetLocalStream(stream *media.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = stream
}

// Dial opens a connection to a remote participant and sends the offer. The
// caller side of a call dials every other participant; joiners dial the
// existing roster.
func (m *Manager) Dial(remote domain.UserID) error {
	m.mu.Lock()
	if _, exists := m.peers[remote]; exists {
		m.mu.Unlock()
		return nil
	}
	link, err := m.newLinkLocked(remote)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.peers[remote] = link
	m.mu.Unlock()

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		m.ClosePeer(remote)
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		m.ClosePeer(remote)
		return fmt.Errorf("failed to set local description: %w", err)
	}

	return m.sendSDP(remote, "offer", link.pc.LocalDescription())
}

// HandleSignal applies a signal received from a remote participant. Offers
// create the answering side of the connection on demand.
func (m *Manager) HandleSignal(from domain.UserID, raw []byte) error {
	sig, err := decodeSignal(raw)
	if err != nil {
		return fmt.Errorf("failed to decode signal: %w", err)
	}

	switch sig.Type {
	case "offer":
		return m.handleOffer(from, sig)
	case "answer":
		return m.handleAnswer(from, sig)
	case "candidate":
		return m.handleCandidate(from, sig)
	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

func (m *Manager) handleOffer(from domain.UserID, sig Signal) error {
	if sig.SDP == nil {
		return errors.New("offer without sdp")
	}

	m.mu.Lock()
	link, exists := m.peers[from]
	if !exists {
		var err error
		link, err = m.newLinkLocked(from)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.peers[from] = link
	}
	m.mu.Unlock()

	if err := link.pc.SetRemoteDescription(*sig.SDP); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	return m.sendSDP(from, "answer", link.pc.LocalDescription())
}

func (m *Manager) handleAnswer(from domain.UserID, sig Signal) error {
	if sig.SDP == nil {
		return errors.New("answer without sdp")
	}
	link, err := m.link(from)
	if err != nil {
		return err
	}
	return link.pc.SetRemoteDescription(*sig.SDP)
}

func (m *Manager) handleCandidate(from domain.UserID, sig Signal) error {
	if sig.Candidate == nil {
		return errors.New("candidate signal without candidate")
	}
	link, err := m.link(from)
	if err != nil {
		return err
	}
	return link.pc.AddICECandidate(*sig.Candidate)
}

// newLinkLocked creates the peer connection with outbound tracks attached
// and all callbacks installed. Caller holds m.mu.
func (m *Manager) newLinkLocked(remote domain.UserID) (*peerLink, error) {
	pc, err := webrtc.NewPeerConnection(m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	link := &peerLink{
		userID:  remote,
		pc:      pc,
		senders: make(map[media.TrackKind]*webrtc.RTPSender),
		pumps:   make(map[media.TrackKind]*trackPump),
	}

	if m.local != nil {
		for _, src := range m.local.Tracks() {
			if err := m.attachTrackLocked(link, src); err != nil {
				pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := m.sendCandidate(remote, &init); err != nil {
			m.logger.Warnw("failed to send ice candidate", "remote", remote, "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track arrived",
			"remote", remote, "track_id", track.ID(), "codec", track.Codec().MimeType)

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go m.requestKeyframes(pc, uint32(track.SSRC()))
		}
		go drainRTCP(receiver)

		if m.onRemoteTrack != nil {
			m.onRemoteTrack(remote, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed", "remote", remote, "state", state)
		if state == webrtc.PeerConnectionStateFailed {
			m.ClosePeer(remote)
		}
	})

	return link, nil
}

// attachTrackLocked adds an outbound track fed from src and starts its pump.
func (m *Manager) attachTrackLocked(link *peerLink, src media.Track) error {
	out, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: src.MimeType(), ClockRate: src.ClockRate()},
		src.ID(),
		"huddle-"+string(src.Kind()),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbound track: %w", err)
	}

	sender, err := link.pc.AddTrack(out)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	go drainSenderRTCP(sender)

	pump := &trackPump{stop: make(chan struct{})}
	link.senders[src.Kind()] = sender
	link.pumps[src.Kind()] = pump
	go m.runPump(pump, src, out)
	return nil
}

// runPump forwards packets from the media source to the outbound track.
// A disabled source keeps being drained so its clock advances, but nothing
// is written out.
func (m *Manager) runPump(pump *trackPump, src media.Track, out *webrtc.TrackLocalStaticRTP) {
	for {
		select {
		case <-pump.stop:
			return
		default:
		}

		pkt, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, media.ErrTrackClosed) {
				m.logger.Warnw("local track read failed", "track_id", src.ID(), "error", err)
			}
			return
		}
		if !src.Enabled() {
			continue
		}
		if err := out.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			m.logger.Warnw("outbound track write failed", "track_id", src.ID(), "error", err)
		}
	}
}

// requestKeyframes sends a PLI on an interval so the remote refreshes the
// picture for late joiners and after loss.
func (m *Manager) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		if pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			return
		}
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
	}
}

// ReplaceVideoTrack swaps the outbound video track on every peer, used for
// screen sharing. The previous pump is stopped first.
func (m *Manager) ReplaceVideoTrack(src media.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, link := range m.peers {
		sender, ok := link.senders[media.TrackVideo]
		if !ok {
			continue
		}
		if pump, ok := link.pumps[media.TrackVideo]; ok {
			pump.halt()
		}

		out, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: src.MimeType(), ClockRate: src.ClockRate()},
			src.ID(),
			"huddle-video",
		)
		if err != nil {
			return fmt.Errorf("failed to create replacement track: %w", err)
		}
		if err := sender.ReplaceTrack(out); err != nil {
			return fmt.Errorf("failed to replace track for %s: %w", link.userID, err)
		}

		pump := &trackPump{stop: make(chan struct{})}
		link.pumps[media.TrackVideo] = pump
		go m.runPump(pump, src, out)
	}
	return nil
}

// SetTrackEnabled toggles the local source of the given kind. Peers keep
// their senders; the pump just stops forwarding.
func (m *Manager) SetTrackEnabled(kind media.TrackKind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return
	}
	for _, t := range m.local.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// ClosePeer tears down the connection to one remote participant.
func (m *Manager) ClosePeer(remote domain.UserID) {
	m.mu.Lock()
	link, ok := m.peers[remote]
	if ok {
		delete(m.peers, remote)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, pump := range link.pumps {
		pump.halt()
	}
	if err := link.pc.Close(); err != nil {
		m.logger.Warnw("failed to close peer connection", "remote", remote, "error", err)
	}
}

// CloseAll tears down every peer connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := make([]*peerLink, 0, len(m.peers))
	for _, link := range m.peers {
		links = append(links, link)
	}
	m.peers = make(map[domain.UserID]*peerLink)
	m.mu.Unlock()

	for _, link := range links {
		for _, pump := range link.pumps {
			pump.halt()
		}
		link.pc.Close()
	}
}

// Peers lists the remote participants currently connected.
func (m *Manager) Peers() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]domain.UserID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) link(remote domain.UserID) (*peerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.peers[remote]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return link, nil
}

func (m *Manager) sendSDP(remote domain.UserID, kind string, sdp *webrtc.SessionDescription) error {
	raw, err := Signal{Type: kind, SDP: sdp}.encode()
	if err != nil {
		return err
	}
	return m.sender.SendSignal(remote, raw)
}

func (m *Manager) sendCandidate(remote domain.UserID, candidate *webrtc.ICECandidateInit) error {
	raw, err := Signal{Type: "candidate", Candidate: candidate}.encode()
	if err != nil {
		return err
	}
	return m.sender.SendSignal(remote, raw)
}

// drainRTCP keeps the receiver's RTCP path flowing; reports are not
// interpreted on the client.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
