package domain

import "time"

type UserID string

type ConnectionID string

// UserStatus is the presence status propagated to other connections.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
	StatusBusy    UserStatus = "busy"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

type User struct {
	ID          UserID     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Status      UserStatus `json:"status"`
}

// PresenceEntry maps an online user to the connection currently tracked as
// their delivery target. Last writer wins when a user opens a second
// connection.
type PresenceEntry struct {
	UserID       UserID       `json:"user_id"`
	ConnectionID ConnectionID `json:"connection_id"`
	ConnectedAt  time.Time    `json:"connected_at"`
}
