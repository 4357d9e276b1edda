package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/redis/go-redis/v9"
)

// transport redeliveries are expected well within a day
const dedupWindow = 24 * time.Hour

// RedisDeduplicator remembers message ids in redis for a day.
// A hash collision only costs an extra task store lookup.
type RedisDeduplicator struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduplicator(env *types.Environment) *RedisDeduplicator {
	return &RedisDeduplicator{client: env.RedisClient, window: dedupWindow}
}

func dedupKey(messageID string) string {
	return fmt.Sprintf("dw:seen:%016x", xxhash.Sum64String(messageID))
}

// IsNew returns true only for the first caller of a message id within the window
func (d *RedisDeduplicator) IsNew(ctx context.Context, messageID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKey(messageID), time.Now().UTC().UnixMilli(), d.window).Result()
}
