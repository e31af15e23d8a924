package domain

import "time"

type MessageID string

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// Message is owned by the external message store; the relay treats it as an
// opaque payload plus a routing key (receiver id or group id). The store
// assigns ID and CreatedAt on persist.
type Message struct {
	ID          MessageID   `json:"id"`
	SenderID    UserID      `json:"senderId"`
	ReceiverID  UserID      `json:"receiverId,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	FileURL     string      `json:"fileUrl,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
}

// NewMessage is the payload handed to the message store for persistence.
type NewMessage struct {
	ReceiverID  UserID
	GroupID     string
	Content     string
	MessageType MessageType
	FileURL     string
	FileName    string
}
