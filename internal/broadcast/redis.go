package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/domain"
)

// Redis relays room messages over redis pub/sub, one channel per room.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func channelFor(roomID domain.RoomID) string {
	return "room." + string(roomID)
}

func (b *Redis) Publish(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(msg.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe feeds every message published for roomID into fn until the
// returned cancel function runs. fn is called from a single goroutine,
// in channel order.
func (b *Redis) Subscribe(ctx context.Context, roomID domain.RoomID, fn func(domain.Message)) (func(), error) {
	ps := b.client.Subscribe(ctx, channelFor(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	go func() {
		for raw := range ps.Channel() {
			var msg domain.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Error().Err(err).Str("module", "broadcast.redis").
					Str("channel", raw.Channel).Msg("bad payload")
				continue
			}
			fn(msg)
		}
	}()
	log.Info().Str("module", "broadcast.redis").Str("room", string(roomID)).Msg("subscribed")
	return func() { _ = ps.Close() }, nil
}

func (b *Redis) Close() error { return b.client.Close() }
