package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	rlog "huddle/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// callService owns the lifecycle of every active call session. All mutations
// for a given session id are serialized behind that session's own lock;
// no ordering is guaranteed across distinct sessions.
type callService struct {
	repo        ports.CallRepository
	groups      ports.GroupDirectory
	broadcaster ports.Broadcaster

	locks   map[domain.CallID]*sync.Mutex
	locksMu sync.Mutex

	observer ports.CallObserver // optional
	logger   *zap.SugaredLogger
}

// NewCallService builds the call lifecycle service. observer may be nil.
func NewCallService(repo ports.CallRepository, groups ports.GroupDirectory, broadcaster ports.Broadcaster, observer ports.CallObserver) ports.CallService {
	return &callService{
		repo:        repo,
		groups:      groups,
		broadcaster: broadcaster,
		locks:       make(map[domain.CallID]*sync.Mutex),
		observer:    observer,
		logger:      rlog.New("info").Sugar(),
	}
}

func (s *callService) sessionLock(id domain.CallID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *callService) releaseLock(id domain.CallID) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func (s *callService) Initiate(ctx context.Context, caller domain.UserID, req domain.CallInitiatePayload) (*domain.CallSession, error) {
	if !req.Kind.Valid() {
		return nil, domain.ErrInvalidPayload
	}

	session := &domain.CallSession{
		ID:           domain.CallID(uuid.NewString()),
		Kind:         req.Kind,
		Status:       domain.CallRinging,
		CallerID:     caller,
		Participants: []domain.UserID{caller},
		GroupID:      req.GroupID,
	}

	// The roster is a set: repeated ids, the caller listed among the
	// targets, or a self-call all collapse.
	targets := req.Participants
	if req.TargetUserID != "" {
		targets = []domain.UserID{req.TargetUserID}
	}
	for _, id := range targets {
		if id != "" {
			session.AddParticipant(id)
		}
	}
	if len(session.Participants) < 2 {
		return nil, domain.ErrInvalidPayload
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create call session: %w", err)
	}

	snapshot := session.Snapshot()
	env, err := domain.NewEnvelope(domain.EventCallIncoming, snapshot)
	if err != nil {
		return nil, err
	}
	for _, target := range session.Others(caller) {
		s.broadcaster.ToUser(target, env)
	}

	if s.observer != nil {
		s.observer.CallStarted(session.Kind)
	}
	s.logger.Infow("call initiated", "call_id", session.ID, "caller_id", caller, "type", session.Kind)
	return snapshot, nil
}

func (s *callService) Accept(ctx context.Context, userID domain.UserID, callID domain.CallID) (*domain.CallSession, error) {
	mu := s.sessionLock(callID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	// Only the ringing to ongoing transition is valid; a late accept must
	// not reset the start time of a call already under way.
	if session.Status != domain.CallRinging {
		return nil, domain.ErrCallNotRinging
	}
	if !session.HasParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}

	now := time.Now()
	session.Status = domain.CallOngoing
	session.StartedAt = &now

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update call session: %w", err)
	}

	snapshot := session.Snapshot()
	s.notifyParticipants(session.Participants, domain.EventCallAccepted, domain.CallRefPayload{CallID: callID})

	s.logger.Infow("call accepted", "call_id", callID, "user_id", userID)
	return snapshot, nil
}

func (s *callService) Reject(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	mu := s.sessionLock(callID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if session.Status != domain.CallRinging {
		return domain.ErrCallNotRinging
	}
	if !session.HasParticipant(userID) {
		return domain.ErrNotParticipant
	}

	if err := s.endSession(ctx, session, domain.EventCallRejected); err != nil {
		return err
	}

	s.logger.Infow("call rejected", "call_id", callID, "user_id", userID)
	return nil
}

func (s *callService) End(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	mu := s.sessionLock(callID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if !session.HasParticipant(userID) {
		return domain.ErrNotParticipant
	}

	if err := s.endSession(ctx, session, domain.EventCallEnded); err != nil {
		return err
	}

	s.logger.Infow("call ended", "call_id", callID, "user_id", userID)
	return nil
}

// endSession sets the end timestamp, notifies every remaining participant
// and removes the session from the active set in the same step. Caller must
// hold the session lock.
func (s *callService) endSession(ctx context.Context, session *domain.CallSession, event string) error {
	now := time.Now()
	session.Status = domain.CallEnded
	session.EndedAt = &now

	if err := s.repo.Remove(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to remove call session: %w", err)
	}
	s.releaseLock(session.ID)

	if s.observer != nil {
		var lasted time.Duration
		if session.StartedAt != nil {
			lasted = session.EndedAt.Sub(*session.StartedAt)
		}
		s.observer.CallEnded(session.Kind, lasted)
	}

	s.notifyParticipants(session.Participants, event, domain.CallRefPayload{CallID: session.ID})
	return nil
}

func (s *callService) Join(ctx context.Context, userID domain.UserID, callID domain.CallID) (*domain.CallSession, error) {
	mu := s.sessionLock(callID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	// No-op if already on the roster: no update, no duplicate notification.
	if !session.AddParticipant(userID) {
		return session.Snapshot(), nil
	}

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update call session: %w", err)
	}

	s.notifyParticipants(session.Others(userID), domain.EventParticipantJoined, domain.ParticipantPayload{
		CallID: callID,
		UserID: userID,
	})

	s.logger.Infow("participant joined call", "call_id", callID, "user_id", userID)
	return session.Snapshot(), nil
}

func (s *callService) Leave(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	mu := s.sessionLock(callID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	return s.leaveLocked(ctx, session, userID)
}

// leaveLocked applies the leave transition. Caller must hold the session
// lock. Removing a user not on the roster is a no-op.
func (s *callService) leaveLocked(ctx context.Context, session *domain.CallSession, userID domain.UserID) error {
	if !session.RemoveParticipant(userID) {
		return nil
	}

	// Cascading cleanup: a call cannot go on with one party.
	if len(session.Participants) <= 1 {
		s.notifyParticipants(session.Participants, domain.EventParticipantLeft, domain.ParticipantPayload{
			CallID: session.ID,
			UserID: userID,
		})
		if err := s.endSession(ctx, session, domain.EventCallEnded); err != nil {
			return err
		}
		s.logger.Infow("call ended after participant left", "call_id", session.ID, "user_id", userID)
		return nil
	}

	if err := s.repo.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to update call session: %w", err)
	}

	s.notifyParticipants(session.Participants, domain.EventParticipantLeft, domain.ParticipantPayload{
		CallID: session.ID,
		UserID: userID,
	})

	s.logger.Infow("participant left call", "call_id", session.ID, "user_id", userID)
	return nil
}

func (s *callService) RelaySignal(ctx context.Context, sender domain.UserID, sig domain.SignalPayload) error {
	if sig.TargetID == "" || len(sig.Signal) == 0 {
		return domain.ErrInvalidPayload
	}

	// The signal payload is forwarded verbatim, tagged with the sender id.
	env, err := domain.NewEnvelope(domain.EventWebRTCSignal, domain.SignalPayload{
		SenderID: sender,
		Signal:   sig.Signal,
	})
	if err != nil {
		return err
	}
	s.broadcaster.ToUser(sig.TargetID, env)
	return nil
}

func (s *callService) StartMeeting(ctx context.Context, host domain.UserID, meeting domain.MeetingPayload) error {
	if !meeting.Kind.Valid() {
		return domain.ErrInvalidPayload
	}
	if meeting.CallID == "" {
		meeting.CallID = domain.CallID(uuid.NewString())
	}

	// The meeting starts with the host alone and already ongoing; group
	// members become participants only when they actively join.
	now := time.Now()
	session := &domain.CallSession{
		ID:           meeting.CallID,
		Kind:         meeting.Kind,
		Status:       domain.CallOngoing,
		CallerID:     host,
		Participants: []domain.UserID{host},
		GroupID:      meeting.GroupID,
		StartedAt:    &now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return fmt.Errorf("failed to create meeting session: %w", err)
	}
	if s.observer != nil {
		s.observer.CallStarted(session.Kind)
	}

	if meeting.GroupID != "" {
		members, err := s.groups.Members(ctx, meeting.GroupID)
		if err != nil {
			return fmt.Errorf("failed to load group members: %w", err)
		}

		meeting.HostID = host
		env, err := domain.NewEnvelope(domain.EventMeetingStarted, meeting)
		if err != nil {
			return err
		}
		for _, member := range members {
			if member != host {
				s.broadcaster.ToUser(member, env)
			}
		}
	}

	s.logger.Infow("meeting started", "call_id", meeting.CallID, "host_id", host, "group_id", meeting.GroupID)
	return nil
}

func (s *callService) HandleDisconnect(ctx context.Context, userID domain.UserID) {
	sessions, err := s.repo.FindByParticipant(ctx, userID)
	if err != nil {
		s.logger.Errorw("failed to scan sessions on disconnect", "user_id", userID, "error", err)
		return
	}

	for _, found := range sessions {
		mu := s.sessionLock(found.ID)
		mu.Lock()
		// Re-read under the lock; the session may have mutated or ended
		// since the scan.
		session, err := s.repo.GetByID(ctx, found.ID)
		if err != nil {
			mu.Unlock()
			continue
		}
		if err := s.leaveLocked(ctx, session, userID); err != nil {
			s.logger.Errorw("failed to remove disconnected participant",
				"call_id", session.ID, "user_id", userID, "error", err)
		}
		mu.Unlock()
	}
}

func (s *callService) notifyParticipants(participants []domain.UserID, event string, payload interface{}) {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Errorw("failed to encode notification", "event", event, "error", err)
		return
	}
	for _, id := range participants {
		s.broadcaster.ToUser(id, env)
	}
}
