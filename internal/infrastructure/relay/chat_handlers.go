package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/pkg/validation"
)

func (s *Server) handleChatJoin(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.ChatRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	if !p.Room.Kind.Valid() {
		return domain.ErrInvalidPayload
	}
	if err := validation.ValidateID("room id", p.Room.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	// Group rooms are gated on membership; direct rooms are open to either
	// party by construction.
	if p.Room.Kind == domain.RoomGroup {
		member, err := s.groups.IsMember(ctx, p.Room.ID, conn.UserID)
		if err != nil {
			return fmt.Errorf("failed to check group membership: %w", err)
		}
		if !member {
			return domain.ErrNotGroupMember
		}
	}

	s.rooms.Join(conn.ID, p.Room.Key())
	s.logger.Debugw("joined chat room", "connection_id", conn.ID, "user_id", conn.UserID, "room", p.Room.String())
	return nil
}

func (s *Server) handleChatLeave(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.ChatRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}

	// Leaving a room never joined is a no-op.
	s.rooms.Leave(conn.ID, p.Room.Key())
	return nil
}

func (s *Server) handleChatMessage(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.ChatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	if !p.Room.Kind.Valid() {
		return domain.ErrInvalidPayload
	}
	if err := validation.ValidateID("room id", p.Room.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	msgType := p.Message.MessageType
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.Valid() {
		return domain.ErrInvalidPayload
	}
	if p.Message.FileURL == "" {
		if err := validation.ValidateMessageContent(p.Message.Content); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
	}
	if err := validation.ValidateFileName(p.Message.FileName); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	// Authorization is re-checked per message, same gate as the join path; a
	// subscription obtained earlier does not entitle the sender forever.
	if p.Room.Kind == domain.RoomGroup {
		member, err := s.groups.IsMember(ctx, p.Room.ID, conn.UserID)
		if err != nil {
			return fmt.Errorf("failed to check group membership: %w", err)
		}
		if !member {
			return domain.ErrNotGroupMember
		}
	}

	draft := domain.NewMessage{
		Content:     p.Message.Content,
		MessageType: msgType,
		FileURL:     p.Message.FileURL,
		FileName:    p.Message.FileName,
	}
	if p.Room.Kind == domain.RoomDirect {
		draft.ReceiverID = domain.UserID(p.Room.ID)
	} else {
		draft.GroupID = p.Room.ID
	}

	msg, err := s.messages.Create(ctx, conn.UserID, draft)
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	env, err := domain.NewEnvelope(domain.EventChatMessage, msg)
	if err != nil {
		return err
	}

	// Everyone subscribed to the room gets the persisted message, the sender
	// included (that echo carries the assigned id and timestamp). For direct
	// chats the recipient's personal room is a second delivery path, so the
	// message arrives even when the recipient never opened the chat.
	s.broadcast.ToRoom(p.Room.Key(), env)
	if p.Room.Kind == domain.RoomDirect {
		s.broadcast.ToUser(msg.ReceiverID, env)
	}

	if s.metrics != nil {
		s.metrics.RecordMessageRelayed()
	}
	s.logger.Debugw("message relayed",
		"message_id", msg.ID, "sender_id", conn.UserID, "room", p.Room.String())
	return nil
}

func (s *Server) handleChatTyping(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	if !p.Room.Kind.Valid() {
		return domain.ErrInvalidPayload
	}

	p.UserID = conn.UserID
	env, err := domain.NewEnvelope(domain.EventChatTyping, p)
	if err != nil {
		return err
	}
	// Same dual-path delivery as messages: a direct-chat peer who never
	// opened the thread still sees the indicator through the personal room.
	s.broadcast.ToRoomExcept(p.Room.Key(), conn.ID, env)
	if p.Room.Kind == domain.RoomDirect {
		s.broadcast.ToUser(domain.UserID(p.Room.ID), env)
	}
	return nil
}

func (s *Server) handleChatRead(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p domain.ReadReceiptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ErrInvalidPayload
	}
	if p.MessageID == "" {
		return domain.ErrInvalidPayload
	}

	if err := s.messages.MarkRead(ctx, p.MessageID); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}

	p.ReadAt = domain.Timestamp(time.Now())
	env, err := domain.NewEnvelope(domain.EventChatRead, p)
	if err != nil {
		return err
	}
	s.broadcast.ToRoomExcept(p.Room.Key(), conn.ID, env)
	if p.Room.Kind == domain.RoomDirect {
		s.broadcast.ToUser(domain.UserID(p.Room.ID), env)
	}
	return nil
}
