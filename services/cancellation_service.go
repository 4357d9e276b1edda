package services

import (
	"context"
	"time"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/redis/go-redis/v9"
)

// flags outlive any queue retry of a task
const cancellationFlagTTL = 7 * 24 * time.Hour

// RedisCancellationFlags lets the API cancel tasks running on any worker
type RedisCancellationFlags struct {
	client *redis.Client
}

func NewRedisCancellationFlags(env *types.Environment) *RedisCancellationFlags {
	return &RedisCancellationFlags{client: env.RedisClient}
}

func cancellationKey(taskID string) string {
	return "dw:cancel:" + taskID
}

func (rc *RedisCancellationFlags) RequestCancel(ctx context.Context, taskID string) error {
	return rc.client.Set(ctx, cancellationKey(taskID), time.Now().UTC().UnixMilli(), cancellationFlagTTL).Err()
}

func (rc *RedisCancellationFlags) IsCancelRequested(ctx context.Context, taskID string) (bool, error) {
	n, err := rc.client.Exists(ctx, cancellationKey(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (rc *RedisCancellationFlags) Clear(ctx context.Context, taskID string) error {
	return rc.client.Del(ctx, cancellationKey(taskID)).Err()
}
