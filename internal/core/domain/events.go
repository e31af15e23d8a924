package domain

import (
	"encoding/json"
	"time"
)

// Event names of the bidirectional event channel. One envelope per frame.
const (
	EventChatJoin    = "chat:join"
	EventChatLeave   = "chat:leave"
	EventChatMessage = "chat:message"
	EventChatTyping  = "chat:typing"
	EventChatRead    = "chat:read"

	EventCallInitiate        = "call:initiate"
	EventCallInitiated       = "call:initiated"
	EventCallIncoming        = "call:incoming"
	EventCallAccept          = "call:accept"
	EventCallAccepted        = "call:accepted"
	EventCallReject          = "call:reject"
	EventCallRejected        = "call:rejected"
	EventCallEnd             = "call:end"
	EventCallEnded           = "call:ended"
	EventCallJoin            = "call:join"
	EventCallJoined          = "call:joined"
	EventCallLeave           = "call:leave"
	EventParticipantJoined   = "call:participant:joined"
	EventParticipantLeft     = "call:participant:left"
	EventWebRTCSignal        = "webrtc:signal"
	EventMeetingStart        = "meeting:start"
	EventMeetingStarted      = "meeting:started"

	EventUserStatus  = "user:status"
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"

	EventError = "error"
)

// Envelope is the wire frame: an event name plus an uninterpreted payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

type ChatRoomPayload struct {
	Room Room `json:"room"`
}

type ChatMessagePayload struct {
	Room    Room `json:"room"`
	Message struct {
		Content     string      `json:"content"`
		MessageType MessageType `json:"messageType,omitempty"`
		FileURL     string      `json:"fileUrl,omitempty"`
		FileName    string      `json:"fileName,omitempty"`
	} `json:"message"`
}

type TypingPayload struct {
	Room     Room   `json:"room"`
	UserID   UserID `json:"userId,omitempty"` // stamped by the server
	IsTyping bool   `json:"isTyping"`
}

type ReadReceiptPayload struct {
	Room      Room      `json:"room"`
	MessageID MessageID `json:"messageId"`
	ReadAt    string    `json:"readAt,omitempty"` // stamped by the server
}

type CallInitiatePayload struct {
	Kind         CallKind `json:"type"`
	TargetUserID UserID   `json:"targetUserId,omitempty"`
	GroupID      string   `json:"groupId,omitempty"`
	Participants []UserID `json:"participants,omitempty"`
}

type CallInitiatedPayload struct {
	CallID CallID `json:"callId"`
}

type CallRefPayload struct {
	CallID CallID `json:"callId"`
}

type ParticipantPayload struct {
	CallID CallID `json:"callId"`
	UserID UserID `json:"userId"`
}

type SignalPayload struct {
	TargetID UserID          `json:"targetId,omitempty"`
	SenderID UserID          `json:"senderId,omitempty"`
	Signal   json.RawMessage `json:"signal"`
}

type MeetingPayload struct {
	CallID    CallID   `json:"callId"`
	Kind      CallKind `json:"type"`
	GroupID   string   `json:"groupId,omitempty"`
	GroupName string   `json:"groupName,omitempty"`
	HostID    UserID   `json:"hostId"`
	HostName  string   `json:"hostName"`
}

type StatusPayload struct {
	UserID UserID     `json:"userId,omitempty"` // stamped by the server
	Status UserStatus `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Timestamp renders the wire format used for server-stamped times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
