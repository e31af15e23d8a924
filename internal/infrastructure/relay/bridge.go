package relay

import (
	"context"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/distributed"

	"go.uber.org/zap"
)

// Both fan-out implementations must stay interchangeable behind the port.
var (
	_ ports.Broadcaster = (*RoomTable)(nil)
	_ ports.Broadcaster = (*BridgedBroadcaster)(nil)
)

// BridgedBroadcaster wraps the local room table and mirrors every broadcast
// onto the envelope bus, so users whose connections landed on another relay
// instance still receive room and personal deliveries. Remote frames flow
// back in through Run and are applied to the local table only.
type BridgedBroadcaster struct {
	local  *RoomTable
	bus    *distributed.EnvelopeBus
	logger *zap.SugaredLogger
}

func NewBridgedBroadcaster(local *RoomTable, bus *distributed.EnvelopeBus, logger *zap.SugaredLogger) *BridgedBroadcaster {
	return &BridgedBroadcaster{local: local, bus: bus, logger: logger}
}

func (b *BridgedBroadcaster) ToRoom(key string, env domain.Envelope) {
	b.local.ToRoom(key, env)
	b.mirror(key, env)
}

func (b *BridgedBroadcaster) ToRoomExcept(key string, exclude domain.ConnectionID, env domain.Envelope) {
	b.local.ToRoomExcept(key, exclude, env)
	// The excluded connection lives on this instance; remote instances get
	// the full room broadcast.
	b.mirror(key, env)
}

func (b *BridgedBroadcaster) ToUser(userID domain.UserID, env domain.Envelope) {
	b.ToRoom(domain.PersonalKey(userID), env)
}

func (b *BridgedBroadcaster) ToAllExcept(connID domain.ConnectionID, env domain.Envelope) {
	b.local.ToAllExcept(connID, env)
	// The excluded connection lives on this instance, so the mirrored frame
	// addresses every remote connection.
	b.mirror("", env)
}

func (b *BridgedBroadcaster) mirror(roomKey string, env domain.Envelope) {
	if err := b.bus.Publish(context.Background(), roomKey, env); err != nil {
		b.logger.Warnw("failed to mirror envelope", "event", env.Event, "room", roomKey, "error", err)
	}
}

// Run applies remote frames to the local table until the context ends.
func (b *BridgedBroadcaster) Run(ctx context.Context) error {
	return b.bus.Run(ctx, func(roomKey string, env domain.Envelope) {
		if roomKey == "" {
			b.local.ToAllExcept("", env)
			return
		}
		b.local.ToRoom(roomKey, env)
	})
}
