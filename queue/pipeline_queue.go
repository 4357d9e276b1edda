package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
)

type PipelineQueue struct {
	processingService *services.ProcessingService
	validate          *validator.Validate
}

func NewPipelineQueue(processingService *services.ProcessingService) *PipelineQueue {
	return &PipelineQueue{
		processingService: processingService,
		validate:          validator.New(),
	}
}

// Processing of email pipeline tasks
func (pq *PipelineQueue) ProcessEmailTask(ctx context.Context, t *asynq.Task) error {
	var task types.PipelineTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := pq.validate.Struct(task); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	var processed *types.EmailProcessingTask
	var err error
	switch t.Type() {
	case types.QueueTypeEmailProcess:
		processed, err = pq.processingService.Process(ctx, task.TaskID)
	case types.QueueTypeEmailResume:
		processed, err = pq.processingService.Resume(ctx, task.TaskID)
	default:
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}
	if err != nil {
		if isPermanent(err) {
			level.Warn(global.Logger).Log("msg", "task dropped", "taskId", task.TaskID, "type", t.Type(), "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		// worker shutdown or a failed save, the task is resumable
		level.Error(global.Logger).Log("msg", "task interrupted", "taskId", task.TaskID, "type", t.Type(), "error", err)
		return err
	}
	level.Info(global.Logger).Log("msg", "task handled", "taskId", processed.TaskID, "type", t.Type(), "status", processed.Status)
	return nil
}

// errors retrying can't fix
func isPermanent(err error) bool {
	return errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrInvalidTransition) ||
		errors.Is(err, types.ErrValidation) ||
		errors.Is(err, types.ErrBadRequest)
}
