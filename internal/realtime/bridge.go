package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the redis channel shared by every server instance.
const DefaultChannel = "chatapp:events"

const presenceKeyPrefix = "chatapp:presence:"

type envelope struct {
	UserIDs []uuid.UUID `json:"userIds"`
	Event   Event       `json:"event"`
}

// Bridge relays events through redis pub/sub so that a user connected to
// any instance receives them. Every instance, including the publisher,
// delivers from the subscription. It also counts, per user, the instances
// holding a connection so that presence only goes offline on the last one.
type Bridge struct {
	hub     *Hub
	client  *redis.Client
	channel string
}

func NewBridge(hub *Hub, client *redis.Client, channel string) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &Bridge{hub: hub, client: client, channel: channel}
	hub.relay = b
	hub.counter = b
	return b
}

func presenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}

// Connect records that this instance holds a connection of userID.
func (b *Bridge) Connect(ctx context.Context, userID uuid.UUID) (int64, error) {
	return b.client.Incr(ctx, presenceKey(userID)).Result()
}

// Disconnect records that this instance dropped its last connection of userID.
func (b *Bridge) Disconnect(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := presenceKey(userID)
	remaining, err := b.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if remaining <= 0 {
		// The key may have been lost while connections were open.
		if err := b.client.Del(ctx, key).Err(); err != nil {
			log.Warn("Failed to clear presence count of %s: %v", userID, err)
		}
		return 0, nil
	}
	return remaining, nil
}

// Notify publishes the event. If redis is unreachable the event is still
// delivered to users connected to this instance.
func (b *Bridge) Notify(ctx context.Context, userIDs []uuid.UUID, event Event) error {
	if len(userIDs) == 0 {
		return nil
	}
	data, err := json.Marshal(envelope{UserIDs: userIDs, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		log.Warn("Redis publish failed, delivering locally: %v", err)
		return b.hub.Notify(ctx, userIDs, event)
	}
	return nil
}

// Run subscribes to the shared channel and delivers until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	log.Info("Subscribed to %s", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("Dropping malformed event: %v", err)
				continue
			}
			if err := b.hub.Notify(ctx, env.UserIDs, env.Event); err != nil {
				log.Warn("Failed to deliver event: %v", err)
			}
		}
	}
}
