package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/mailio/go-mailio-datawallet/services/servicestest"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelineTask(t *testing.T, taskType string, taskID string) *asynq.Task {
	payload, err := json.Marshal(&types.PipelineTask{TaskID: taskID})
	require.NoError(t, err)
	return asynq.NewTask(taskType, payload)
}

func TestProcessEmailTask(t *testing.T) {
	p := servicestest.NewPipeline(t)
	p.Register(t, servicestest.OwnerWallet, "alice@example.com", true)
	task := p.Ingest(t, servicestest.Email("<queue@example.com>", 1), servicestest.PassingAuth)

	pq := NewPipelineQueue(p.Processing)
	require.NoError(t, pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailProcess, task.TaskID)))

	processed, err := p.Processing.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, processed.Status)
	assert.Equal(t, 2, p.Ledger.Records())

	// a redelivered task is a no-op
	require.NoError(t, pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailResume, task.TaskID)))
	assert.Equal(t, 2, p.Ledger.Records())
}

func TestProcessEmailTaskPendingConsent(t *testing.T) {
	p := servicestest.NewPipeline(t)
	p.Register(t, servicestest.OwnerWallet, "alice@example.com", false)
	task := p.Ingest(t, servicestest.Email("<consent@example.com>", 0), servicestest.PassingAuth)

	pq := NewPipelineQueue(p.Processing)
	require.NoError(t, pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailProcess, task.TaskID)))

	pending, err := p.Processing.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingAuthorization, pending.Status)

	_, err = p.Processing.Authorize(context.Background(), p.Notifier.LastToken(t))
	require.NoError(t, err)
	require.Equal(t, []string{task.TaskID}, p.Scheduler.Resumed)

	require.NoError(t, pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailResume, task.TaskID)))
	done, err := p.Processing.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
	assert.Equal(t, 4, done.ActualCreditsUsed)
}

func TestProcessEmailTaskSkipRetry(t *testing.T) {
	p := servicestest.NewPipeline(t)
	pq := NewPipelineQueue(p.Processing)

	err := pq.ProcessEmailTask(context.Background(), asynq.NewTask(types.QueueTypeEmailProcess, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailProcess, ""))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = pq.ProcessEmailTask(context.Background(), pipelineTask(t, "email:unknown", "task-1"))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailProcess, "missing"))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// a worker shutdown leaves the task resumable and asks asynq to retry
func TestProcessEmailTaskShutdown(t *testing.T) {
	p := servicestest.NewPipeline(t)
	p.Register(t, servicestest.OwnerWallet, "alice@example.com", true)
	task := p.Ingest(t, servicestest.Email("<shutdown@example.com>", 0), servicestest.PassingAuth)
	p.Store.Block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pq := NewPipelineQueue(p.Processing)
	err := pq.ProcessEmailTask(ctx, pipelineTask(t, types.QueueTypeEmailProcess, task.TaskID))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	close(p.Store.Block)
	require.NoError(t, pq.ProcessEmailTask(context.Background(), pipelineTask(t, types.QueueTypeEmailResume, task.TaskID)))
	done, err := p.Processing.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
}
