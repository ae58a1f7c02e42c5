package workflow

import (
	"fmt"
	"time"

	"github.com/modflow/modflow/backend/history"
	a "github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/command"
	"github.com/modflow/modflow/internal/fn"
	"github.com/modflow/modflow/internal/sync"
	"github.com/modflow/modflow/internal/workflowstate"
)

// Task is a function taking a context.Context as its optional first argument,
// returning an optional result and an error. Tasks may have side effects; they are
// executed at most once per history entry and their results are recorded.
type Task = any

// RetryPolicy controls how task executions are retried by the worker.
type RetryPolicy = history.RetryPolicy

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        3,
	FirstInterval:      time.Second,
	BackoffCoefficient: 2,
	MaxInterval:        time.Minute,
}

type TaskOptions struct {
	Retry RetryPolicy
}

var DefaultTaskOptions = TaskOptions{
	Retry: DefaultRetryPolicy,
}

// ExecuteTask schedules the given task for execution and returns a future for its
// result. The result of each execution is recorded in the instance history; on
// replay the recorded result is returned instead of running the task again.
func ExecuteTask[TResult any](ctx Context, options TaskOptions, task Task, args ...any) Future[TResult] {
	f := sync.NewFuture[TResult]()

	if ctx.Err() != nil {
		f.Set(*new(TResult), ctx.Err())
		return f
	}

	if err := a.ReturnTypeMatch[TResult](task); err != nil {
		f.Set(*new(TResult), err)
		return f
	}

	if err := a.ParamsMatch(task, args...); err != nil {
		f.Set(*new(TResult), err)
		return f
	}

	wfState := workflowstate.WorkflowState(ctx)

	cv := wfState.Converter()
	inputs, err := a.ArgsToInputs(cv, args...)
	if err != nil {
		f.Set(*new(TResult), fmt.Errorf("converting task input: %w", err))
		return f
	}

	scheduleEventID := wfState.GetNextScheduleEventID()
	name := fn.Name(task)

	retry := options.Retry

	cmd := command.NewScheduleTaskCommand(scheduleEventID, name, inputs, &retry)
	wfState.AddCommand(cmd)
	wfState.TrackFuture(scheduleEventID, workflowstate.AsDecodingSettable(cv, f))

	return f
}
