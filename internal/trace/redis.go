package trace

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel so a
// separate dashboard process can follow runs.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func (p RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.Channel, b).Err()
}
