package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

// max time a single pipeline run may take
const taskTimeout = 10 * time.Minute

// AsynqScheduler enqueues pipeline runs on the redis backed task queue
type AsynqScheduler struct {
	client   *asynq.Client
	maxRetry int
}

func NewAsynqScheduler(env *types.Environment, maxRetry int) *AsynqScheduler {
	if env.TaskClient == nil {
		panic("task client not initialized")
	}
	return &AsynqScheduler{client: env.TaskClient, maxRetry: maxRetry}
}

func (as *AsynqScheduler) ScheduleProcess(ctx context.Context, taskID string) error {
	task, err := types.NewEmailProcessTask(&types.PipelineTask{TaskID: taskID})
	if err != nil {
		return err
	}
	return as.enqueue(ctx, task, taskID)
}

func (as *AsynqScheduler) ScheduleResume(ctx context.Context, taskID string) error {
	task, err := types.NewEmailResumeTask(&types.PipelineTask{TaskID: taskID})
	if err != nil {
		return err
	}
	return as.enqueue(ctx, task, taskID)
}

// QueueTaskID is the asynq id of a pipeline run. One run per type and task can be queued at a time.
func QueueTaskID(taskType string, taskID string) string {
	return taskType + ":" + taskID
}

func (as *AsynqScheduler) enqueue(ctx context.Context, task *asynq.Task, taskID string) error {
	info, err := as.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(as.maxRetry),
		asynq.Timeout(taskTimeout),
		asynq.TaskID(QueueTaskID(task.Type(), taskID)))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			level.Debug(global.Logger).Log("msg", "task already queued", "taskId", taskID, "type", task.Type())
			return nil
		}
		return err
	}
	level.Info(global.Logger).Log("msg", "task queued", "taskId", taskID, "type", task.Type(), "queue", info.Queue)
	return nil
}
