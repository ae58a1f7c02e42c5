package taskstate

import (
	"context"
	"log/slog"

	"github.com/modflow/modflow/core"
)

// TaskState is made available to task functions through their context.
type TaskState struct {
	TaskID   string
	Attempt  int
	Instance *core.WorkflowInstance
	Logger   *slog.Logger
}

func NewTaskState(taskID string, attempt int, instance *core.WorkflowInstance, logger *slog.Logger) *TaskState {
	return &TaskState{
		TaskID:   taskID,
		Attempt:  attempt,
		Instance: instance,
		Logger: logger.With(
			slog.String("task_id", taskID),
			slog.Int("attempt", attempt),
			slog.String("instance_id", instance.InstanceID),
			slog.String("execution_id", instance.ExecutionID),
		),
	}
}

type key int

var taskCtxKey key

func WithTaskState(ctx context.Context, ts *TaskState) context.Context {
	return context.WithValue(ctx, taskCtxKey, ts)
}

func GetTaskState(ctx context.Context) *TaskState {
	return ctx.Value(taskCtxKey).(*TaskState)
}
