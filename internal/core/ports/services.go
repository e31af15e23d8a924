package ports

import (
	"context"
	"time"

	"huddle/internal/core/domain"
)

// Broadcaster is the bounded fan-out primitive: room key to the connections
// currently subscribed. Sends are fire-and-forget; no delivery
// acknowledgment is awaited.
type Broadcaster interface {
	// ToRoom sends to every connection subscribed to key.
	ToRoom(key string, env domain.Envelope)
	// ToRoomExcept sends to the room's connections, skipping exclude.
	ToRoomExcept(key string, exclude domain.ConnectionID, env domain.Envelope)
	// ToUser sends to the user's personal room.
	ToUser(userID domain.UserID, env domain.Envelope)
	// ToAllExcept sends to every connection except connID.
	ToAllExcept(connID domain.ConnectionID, env domain.Envelope)
}

type PresenceService interface {
	Register(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error
	Unregister(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error
	SetStatus(ctx context.Context, userID domain.UserID, connID domain.ConnectionID, status domain.UserStatus) error
}

// CallObserver receives call lifecycle notifications for instrumentation.
// Implementations must not block.
type CallObserver interface {
	CallStarted(kind domain.CallKind)
	CallEnded(kind domain.CallKind, duration time.Duration)
}

type CallService interface {
	Initiate(ctx context.Context, caller domain.UserID, req domain.CallInitiatePayload) (*domain.CallSession, error)
	Accept(ctx context.Context, userID domain.UserID, callID domain.CallID) (*domain.CallSession, error)
	Reject(ctx context.Context, userID domain.UserID, callID domain.CallID) error
	End(ctx context.Context, userID domain.UserID, callID domain.CallID) error
	Join(ctx context.Context, userID domain.UserID, callID domain.CallID) (*domain.CallSession, error)
	Leave(ctx context.Context, userID domain.UserID, callID domain.CallID) error
	RelaySignal(ctx context.Context, sender domain.UserID, sig domain.SignalPayload) error
	StartMeeting(ctx context.Context, host domain.UserID, meeting domain.MeetingPayload) error
	// HandleDisconnect applies the leave transition to every active session
	// containing userID.
	HandleDisconnect(ctx context.Context, userID domain.UserID)
}
