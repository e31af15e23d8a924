package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const envelopeChannel = "huddle:envelopes"

// Frame carries one room-targeted envelope between relay instances. The
// instance id lets subscribers drop their own publications.
type Frame struct {
	InstanceID string          `json:"instanceId"`
	RoomKey    string          `json:"roomKey,omitempty"`
	Envelope   domain.Envelope `json:"envelope"`
}

// EnvelopeBus mirrors room-targeted envelopes across relay instances over
// redis pub/sub, so a user connected to another instance still receives
// messages, call events and presence updates addressed to them.
type EnvelopeBus struct {
	client     *redis.Client
	instanceID string
	pubsub     *redis.PubSub
	logger     *zap.SugaredLogger
}

func NewEnvelopeBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EnvelopeBus {
	return &EnvelopeBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Publish sends one frame to every other instance. An empty roomKey
// addresses all connections on the receiving side.
func (b *EnvelopeBus) Publish(ctx context.Context, roomKey string, env domain.Envelope) error {
	data, err := json.Marshal(Frame{
		InstanceID: b.instanceID,
		RoomKey:    roomKey,
		Envelope:   env,
	})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := b.client.Publish(ctx, envelopeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// Run subscribes and delivers remote frames until the context ends. Frames
// published by this instance are skipped.
func (b *EnvelopeBus) Run(ctx context.Context, deliver func(roomKey string, env domain.Envelope)) error {
	if b.pubsub != nil {
		return fmt.Errorf("envelope bus already running")
	}
	b.pubsub = b.client.Subscribe(ctx, envelopeChannel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.logger.Warnw("dropping malformed frame", "error", err)
				continue
			}
			if frame.InstanceID == b.instanceID {
				continue
			}
			deliver(frame.RoomKey, frame.Envelope)
		}
	}
}

// Close tears down the subscription if one is active.
func (b *EnvelopeBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
