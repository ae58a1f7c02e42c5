// Package task contains helpers available to task functions at runtime.
package task

import (
	"context"
	"log/slog"

	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/taskstate"
)

// Logger returns a logger scoped to the current task execution.
func Logger(ctx context.Context) *slog.Logger {
	return taskstate.GetTaskState(ctx).Logger
}

// Attempt returns the current attempt, starting at 1. Retries increment it.
func Attempt(ctx context.Context) int {
	return taskstate.GetTaskState(ctx).Attempt
}

// WorkflowInstance returns the workflow instance the current task belongs to.
func WorkflowInstance(ctx context.Context) *core.WorkflowInstance {
	return taskstate.GetTaskState(ctx).Instance
}
