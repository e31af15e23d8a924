package domain

import "fmt"

// RoomKind distinguishes chat-room targets. The kind is carried explicitly
// on the wire instead of being inferred from the id's shape.
type RoomKind string

const (
	// RoomDirect is a one-to-one chat keyed by the other party's user id.
	RoomDirect RoomKind = "direct"
	// RoomGroup is a group chat keyed by the group id. Joining requires a
	// membership check.
	RoomGroup RoomKind = "group"
)

func (k RoomKind) Valid() bool {
	return k == RoomDirect || k == RoomGroup
}

// Room identifies a chat broadcast group connections can subscribe to.
// Rooms are not persisted; they exist only as live subscription sets.
type Room struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

func DirectRoom(userID UserID) Room {
	return Room{Kind: RoomDirect, ID: string(userID)}
}

func GroupRoom(groupID string) Room {
	return Room{Kind: RoomGroup, ID: groupID}
}

// Key returns the subscription-table key a chat:join subscribes to.
func (r Room) Key() string {
	return "chat:" + r.ID
}

// PersonalKey returns the key of a user's always-joined personal room, the
// reliable delivery target independent of explicit chat subscriptions.
func PersonalKey(userID UserID) string {
	return "user:" + string(userID)
}

func (r Room) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}
