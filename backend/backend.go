package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
)

var (
	// ErrInstanceNotFound is returned when an operation references an unknown
	// workflow instance.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists is returned when creating an instance with an ID that
	// is already taken.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrInstanceNotFinished is returned when querying the result of an instance that
	// is still running.
	ErrInstanceNotFinished = errors.New("workflow instance is not finished")

	// ErrNoWaitingInstance is returned when a signal is sent to an instance that is
	// not waiting for it, either because it never waited or because its wait already
	// resolved.
	ErrNoWaitingInstance = errors.New("workflow instance is not waiting for signal")

	// ErrStaleSignal is returned when a signal arrives after the wait it targets has
	// passed its deadline.
	ErrStaleSignal = errors.New("signal arrived after wait deadline")

	// ErrConcurrentModification is returned when completing a workflow task that
	// operated on stale instance state. The task's results are discarded and the
	// work is redelivered.
	ErrConcurrentModification = errors.New("workflow instance was modified concurrently")

	// ErrTimerScheduling is returned when a durable timer could not be persisted,
	// usually because the backing store is unavailable.
	ErrTimerScheduling = errors.New("could not persist timer")
)

const TracerName = "modflow"

type Backend interface {
	// CreateWorkflowInstance creates a new workflow instance with the given start event.
	CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, event *history.Event) error

	// CancelWorkflowInstance cancels a running workflow instance.
	CancelWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance, cancelEvent *history.Event) error

	// GetWorkflowInstanceState returns the state of the given workflow instance.
	GetWorkflowInstanceState(ctx context.Context, instance *core.WorkflowInstance) (core.InstanceState, error)

	// GetWorkflowInstanceHistory returns the workflow history for the given instance.
	// When lastSequenceID is given, only events after that event are returned.
	GetWorkflowInstanceHistory(ctx context.Context, instance *core.WorkflowInstance, lastSequenceID *int64) ([]*history.Event, error)

	// SignalWorkflow delivers a signal event to a single instance. The instance must
	// have an unresolved wait open for the signal's name; otherwise
	// ErrNoWaitingInstance or ErrStaleSignal is returned.
	SignalWorkflow(ctx context.Context, instanceID string, event *history.Event) error

	// BroadcastSignal delivers a signal event to every instance with an unresolved
	// wait open for the signal's name. Returns the number of instances signaled.
	BroadcastSignal(ctx context.Context, event *history.Event) (int, error)

	// GetWorkflowTask returns a pending workflow task, or nil if no instance has work.
	// The instance is locked until the task is completed or the lock expires.
	GetWorkflowTask(ctx context.Context) (*WorkflowTask, error)

	// ExtendWorkflowTask extends the lock of a workflow task.
	ExtendWorkflowTask(ctx context.Context, task *WorkflowTask) error

	// CompleteWorkflowTask checkpoints a workflow task retrieved using
	// GetWorkflowTask. executedEvents are added to the instance history, taskEvents
	// are queued for task workers, and timerEvents become visible at their VisibleAt
	// time. openWait records the wait the instance is suspended on, if any. Returns
	// ErrConcurrentModification if the instance changed since the task was handed out.
	CompleteWorkflowTask(
		ctx context.Context, task *WorkflowTask, state core.InstanceState,
		executedEvents, taskEvents, timerEvents []*history.Event, openWait *core.OpenWait) error

	// GetTask returns a pending task execution, or nil if there is none. The task is
	// locked until completed or the lock expires.
	GetTask(ctx context.Context) (*Task, error)

	// ExtendTask extends the lock of a task.
	ExtendTask(ctx context.Context, task *Task) error

	// CompleteTask completes a task retrieved using GetTask and delivers the result
	// event to the owning workflow instance.
	CompleteTask(ctx context.Context, task *Task, result *history.Event) error

	// Tracer returns the configured tracer for the backend.
	Tracer() trace.Tracer

	// Options returns the configured options for the backend.
	Options() *Options

	// Close closes any underlying resources.
	Close() error
}
