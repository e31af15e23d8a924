package relay

import (
	"context"
	"encoding/json"

	"huddle/internal/core/domain"
)

func (s *Server) handleCallInitiate(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallInitiatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}

	session, err := s.calls.Initiate(ctx, conn.UserID, p)
	if err != nil {
		return err
	}

	// Acknowledge to the caller with the assigned session id; ringing on the
	// callee side is already in flight.
	ack, err := domain.NewEnvelope(domain.EventCallInitiated, domain.CallInitiatedPayload{CallID: session.ID})
	if err != nil {
		return err
	}
	conn.Send(ack)
	return nil
}

func (s *Server) handleCallAccept(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	_, err := s.calls.Accept(ctx, conn.UserID, p.CallID)
	return err
}

func (s *Server) handleCallReject(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	return s.calls.Reject(ctx, conn.UserID, p.CallID)
}

func (s *Server) handleCallEnd(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	return s.calls.End(ctx, conn.UserID, p.CallID)
}

func (s *Server) handleCallJoin(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}

	session, err := s.calls.Join(ctx, conn.UserID, p.CallID)
	if err != nil {
		return err
	}

	// The joiner gets the full roster snapshot so it can dial peers.
	env, err := domain.NewEnvelope(domain.EventCallJoined, session)
	if err != nil {
		return err
	}
	conn.Send(env)
	return nil
}

func (s *Server) handleCallLeave(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.CallRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	return s.calls.Leave(ctx, conn.UserID, p.CallID)
}

func (s *Server) handleSignal(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}

	if err := s.calls.RelaySignal(ctx, conn.UserID, p); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed()
	}
	return nil
}

func (s *Server) handleMeetingStart(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.MeetingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	p.HostID = conn.UserID
	if p.HostName == "" {
		p.HostName = conn.User.Username
	}
	return s.calls.StartMeeting(ctx, conn.UserID, p)
}

func (s *Server) handleUserStatus(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	return s.presence.SetStatus(ctx, conn.UserID, conn.ID, p.Status)
}
