package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisEnvironment(t *testing.T) (*types.Environment, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &types.Environment{RedisClient: client}, mr
}

func TestRedisDeduplicator(t *testing.T) {
	env, mr := newRedisEnvironment(t)
	dedup := NewRedisDeduplicator(env)
	ctx := context.Background()

	isNew, err := dedup.IsNew(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = dedup.IsNew(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = dedup.IsNew(ctx, "<b@example.com>")
	require.NoError(t, err)
	assert.True(t, isNew)

	assert.Equal(t, dedupWindow, mr.TTL(dedupKey("<a@example.com>")))
	mr.FastForward(dedupWindow + time.Second)
	isNew, err = dedup.IsNew(ctx, "<a@example.com>")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisDeduplicatorUnavailable(t *testing.T) {
	env, mr := newRedisEnvironment(t)
	dedup := NewRedisDeduplicator(env)
	mr.Close()

	_, err := dedup.IsNew(context.Background(), "<a@example.com>")
	assert.Error(t, err)
}

func TestRedisCancellationFlags(t *testing.T) {
	env, mr := newRedisEnvironment(t)
	flags := NewRedisCancellationFlags(env)
	ctx := context.Background()

	requested, err := flags.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, flags.RequestCancel(ctx, "task-1"))
	requested, err = flags.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, requested)
	assert.Equal(t, cancellationFlagTTL, mr.TTL(cancellationKey("task-1")))

	require.NoError(t, flags.Clear(ctx, "task-1"))
	requested, err = flags.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, requested)
}

// a flag set by another process cancels a task before its next phase
func TestSharedCancellationFlagCancelsTask(t *testing.T) {
	env, _ := newRedisEnvironment(t)
	p := newPipeline(t)
	flags := NewRedisCancellationFlags(env)
	p.service.cancels = flags
	p.service.dedup = NewRedisDeduplicator(env)
	p.register(t, ownerWallet, "alice@example.com", true)

	task, duplicate, err := p.service.IngestEmail(context.Background(), testEmail("<flag@example.com>", 1), passingAuth)
	require.NoError(t, err)
	require.False(t, duplicate)

	_, duplicate, err = p.service.IngestEmail(context.Background(), testEmail("<flag@example.com>", 1), passingAuth)
	require.NoError(t, err)
	assert.True(t, duplicate)

	require.NoError(t, flags.RequestCancel(context.Background(), task.TaskID))
	cancelled, err := p.service.Process(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)
	assert.Zero(t, p.store.putCount())

	// the flag is cleared once the task is cancelled
	requested, err := flags.IsCancelRequested(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.False(t, requested)
}
