package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/payload"
	a "github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/taskstate"
	"github.com/modflow/modflow/internal/workflowerrors"
	"github.com/modflow/modflow/registry"
)

// TaskRunner executes queued tasks. Retries happen here, inside a single task
// execution: the workflow history records one TaskScheduled event and one terminal
// TaskCompleted or TaskFailed event regardless of the number of attempts.
type TaskRunner struct {
	backend   backend.Backend
	registry  *registry.Registry
	converter converter.Converter
	tracer    trace.Tracer
	clock     clock.Clock
	logger    *slog.Logger
}

func NewTaskRunner(b backend.Backend, r *registry.Registry, clock clock.Clock) *TaskRunner {
	return &TaskRunner{
		backend:   b,
		registry:  r,
		converter: b.Options().Converter,
		tracer:    b.Tracer(),
		clock:     clock,
		logger:    b.Options().Logger,
	}
}

func (tr *TaskRunner) Get(ctx context.Context) (*backend.Task, error) {
	return tr.backend.GetTask(ctx)
}

func (tr *TaskRunner) Extend(ctx context.Context, t *backend.Task) error {
	return tr.backend.ExtendTask(ctx, t)
}

func (tr *TaskRunner) Execute(ctx context.Context, t *backend.Task) (*history.Event, error) {
	attrs := t.Event.Attributes.(*history.TaskScheduledAttributes)

	ctx, span := tr.tracer.Start(ctx, "TaskExecution", trace.WithAttributes(
		attribute.String("task", attrs.Name),
		attribute.String("instance_id", t.WorkflowInstance.InstanceID),
	))
	defer span.End()

	result, attempts, err := tr.executeWithRetries(ctx, t, attrs)

	var event *history.Event
	if err != nil {
		event = history.NewPendingEvent(
			tr.clock.Now(),
			history.EventType_TaskFailed,
			&history.TaskFailedAttributes{
				Error:    workflowerrors.FromError(err),
				Attempts: attempts,
			},
			history.ScheduleEventID(t.Event.ScheduleEventID),
		)
	} else {
		event = history.NewPendingEvent(
			tr.clock.Now(),
			history.EventType_TaskCompleted,
			&history.TaskCompletedAttributes{
				Result: result,
			},
			history.ScheduleEventID(t.Event.ScheduleEventID),
		)
	}

	return event, nil
}

func (tr *TaskRunner) Complete(ctx context.Context, result *history.Event, t *backend.Task) error {
	if err := tr.backend.CompleteTask(ctx, t, result); err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	return nil
}

func (tr *TaskRunner) executeWithRetries(
	ctx context.Context, t *backend.Task, attrs *history.TaskScheduledAttributes,
) (payload.Payload, int, error) {
	maxAttempts := 1
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	if retry := attrs.Retry; retry != nil {
		if retry.MaxAttempts > 0 {
			maxAttempts = retry.MaxAttempts
		}
		if retry.FirstInterval > 0 {
			bo.InitialInterval = retry.FirstInterval
		}
		if retry.BackoffCoefficient > 0 {
			bo.Multiplier = retry.BackoffCoefficient
		}
		if retry.MaxInterval > 0 {
			bo.MaxInterval = retry.MaxInterval
		}
	}

	attempt := 0
	var result payload.Payload

	operation := func() error {
		attempt++

		r, err := tr.runTask(ctx, t, attrs, attempt)
		if err != nil {
			if !workflowerrors.CanRetry(err) {
				return backoff.Permanent(err)
			}

			tr.logger.DebugContext(ctx, "task attempt failed",
				"task", attrs.Name, "attempt", attempt, "error", err)

			return err
		}

		result = r
		return nil
	}

	err := backoff.Retry(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	return result, attempt, err
}

func (tr *TaskRunner) runTask(
	ctx context.Context, t *backend.Task, attrs *history.TaskScheduledAttributes, attempt int,
) (result payload.Payload, err error) {
	task, err := tr.registry.GetTask(attrs.Name)
	if err != nil {
		// Not retryable, the registration is missing
		return nil, workflowerrors.NewPermanentError(err)
	}

	taskFn := reflect.ValueOf(task)

	args, addContext, err := a.InputsToArgs(tr.converter, taskFn, attrs.Inputs)
	if err != nil {
		return nil, workflowerrors.NewPermanentError(fmt.Errorf("converting task inputs: %w", err))
	}

	ts := taskstate.NewTaskState(t.ID, attempt, t.WorkflowInstance, tr.logger)
	taskCtx := taskstate.WithTaskState(ctx, ts)

	if addContext {
		args[0] = reflect.ValueOf(taskCtx)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = workflowerrors.NewPanicError(r)
		}
	}()

	r := taskFn.Call(args)

	if len(r) < 1 || len(r) > 2 {
		return nil, workflowerrors.NewPermanentError(errors.New("task must return (error) or (result, error)"))
	}

	if len(r) > 1 {
		result, err = tr.converter.To(r[0].Interface())
		if err != nil {
			return nil, workflowerrors.NewPermanentError(fmt.Errorf("converting task result: %w", err))
		}
	}

	errResult := r[len(r)-1]
	if errResult.IsNil() {
		return result, nil
	}

	errInterface, ok := errResult.Interface().(error)
	if !ok {
		return nil, workflowerrors.NewPermanentError(
			fmt.Errorf("task error result does not satisfy error interface (%T): %v", errResult, errResult))
	}

	return result, errInterface
}
