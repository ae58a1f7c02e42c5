package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/command"
	"github.com/modflow/modflow/internal/sync"
	"github.com/modflow/modflow/internal/workflowerrors"
	"github.com/modflow/modflow/internal/workflowstate"
	"github.com/modflow/modflow/registry"
)

// ReplayMismatchError indicates that the recorded history of an instance diverged
// from what the workflow code produced during replay. This happens when workflow
// code was changed incompatibly or is non-deterministic.
type ReplayMismatchError struct {
	InstanceID string
	Reason     string
}

func (e *ReplayMismatchError) Error() string {
	return fmt.Sprintf("replay mismatch for instance %s: %s", e.InstanceID, e.Reason)
}

// ExecutionResult is the outcome of advancing a workflow instance by one task.
type ExecutionResult struct {
	Completed bool
	State     core.InstanceState

	// ExecutedEvents are the events processed or produced by this task, in order,
	// with sequence IDs assigned. They become the next slice of the history.
	ExecutedEvents []*history.Event

	// TaskEvents are TaskScheduled events to enqueue for task workers.
	TaskEvents []*history.Event

	// TimerEvents are future events, visible at their VisibleAt time.
	TimerEvents []*history.Event

	// OpenWait is the wait the instance is suspended on after this task, if any.
	OpenWait *core.OpenWait
}

// FailInstance builds a result that completes the instance as failed, recording the
// given error in its finished event. Used when a workflow task cannot be executed at
// all, for example after a replay mismatch on a fresh replay.
func FailInstance(now time.Time, t *backend.WorkflowTask, ferr error) *ExecutionResult {
	finished := history.NewPendingEvent(
		now,
		history.EventType_WorkflowExecutionFinished,
		&history.ExecutionCompletedAttributes{
			Error: workflowerrors.FromError(ferr),
		},
	)
	finished.SequenceID = t.LastSequenceID + 1

	return &ExecutionResult{
		Completed:      true,
		State:          core.InstanceStateFailed,
		ExecutedEvents: []*history.Event{finished},
	}
}

// WorkflowExecutor advances a single workflow instance. Executors are stateful: they
// keep the workflow coroutine and its state between tasks, so consecutive tasks for
// the same instance avoid a full history replay.
type WorkflowExecutor interface {
	ExecuteTask(ctx context.Context, t *backend.WorkflowTask) (*ExecutionResult, error)

	Close()
}

type executor struct {
	registry      *registry.Registry
	backend       backend.Backend
	runner        *workflowRunner
	workflowState *workflowstate.WfState
	workflowCtx   sync.Context
	cancel        sync.CancelFunc
	clock         clock.Clock
	logger        *slog.Logger

	lastSequenceID int64
}

func NewExecutor(logger *slog.Logger, registry *registry.Registry, b backend.Backend, instance *core.WorkflowInstance, clock clock.Clock) WorkflowExecutor {
	state := workflowstate.NewWorkflowState(instance, logger, b.Options().Converter, clock)
	wfCtx, cancel := sync.WithCancel(workflowstate.WithWorkflowState(sync.Background(), state))

	return &executor{
		registry:      registry,
		backend:       b,
		workflowState: state,
		workflowCtx:   wfCtx,
		cancel:        cancel,
		clock:         clock,
		logger: logger.With(
			slog.String("instance_id", instance.InstanceID),
			slog.String("execution_id", instance.ExecutionID),
		),
	}
}

func (e *executor) ExecuteTask(ctx context.Context, t *backend.WorkflowTask) (*ExecutionResult, error) {
	e.logger.DebugContext(ctx, "executing workflow task",
		slog.Int64("last_sequence_id", t.LastSequenceID),
		slog.Int("new_events", len(t.NewEvents)))

	if t.LastSequenceID < e.lastSequenceID {
		return nil, &ReplayMismatchError{
			InstanceID: t.WorkflowInstance.InstanceID,
			Reason: fmt.Sprintf(
				"cached state is ahead of history: sequence %d > %d", e.lastSequenceID, t.LastSequenceID),
		}
	}

	if t.LastSequenceID > e.lastSequenceID {
		if err := e.catchupOnHistory(ctx, t); err != nil {
			return nil, err
		}
	}

	// Pad the received events with a task started event carrying the current time;
	// replaying it restores the same workflow time.
	toExecute := []*history.Event{
		history.NewPendingEvent(e.clock.Now(), history.EventType_WorkflowTaskStarted, &history.WorkflowTaskStartedAttributes{}),
	}
	toExecute = append(toExecute, t.NewEvents...)

	if err := e.executeNewEvents(toExecute); err != nil {
		return nil, fmt.Errorf("executing new events: %w", err)
	}

	executedEvents := toExecute
	completed := false

	var taskEvents, timerEvents []*history.Event

	// Execute pending commands. Events they emit are part of this task's slice.
	for _, c := range e.workflowState.Commands() {
		if r := c.Execute(e.clock); r != nil {
			executedEvents = append(executedEvents, r.Events...)
			taskEvents = append(taskEvents, r.TaskEvents...)
			timerEvents = append(timerEvents, r.TimerEvents...)

			if r.Completed {
				completed = true
			}
		}
	}

	// Drop finished commands. Iterate over a copy, removal mutates the slice.
	for _, c := range append([]command.Command{}, e.workflowState.Commands()...) {
		switch c.State() {
		case command.CommandState_Done, command.CommandState_Canceled:
			e.workflowState.RemoveCommand(c)
		}
	}

	// Assign sequence IDs to the executed events
	for _, event := range executedEvents {
		e.lastSequenceID++
		event.SequenceID = e.lastSequenceID
	}

	state := core.InstanceStateRunning
	openWait := e.workflowState.OpenWait()

	if completed {
		state = core.InstanceStateCompleted
		if e.runner != nil {
			if errors.Is(e.runner.Error(), sync.Canceled) {
				state = core.InstanceStateCanceled
			} else if e.runner.Error() != nil {
				state = core.InstanceStateFailed
			}
		}
		openWait = nil
	} else if openWait != nil {
		state = core.InstanceStateSuspended
	}

	return &ExecutionResult{
		Completed:      completed,
		State:          state,
		ExecutedEvents: executedEvents,
		TaskEvents:     taskEvents,
		TimerEvents:    timerEvents,
		OpenWait:       openWait,
	}, nil
}

func (e *executor) catchupOnHistory(ctx context.Context, t *backend.WorkflowTask) error {
	var after *int64
	if e.lastSequenceID > 0 {
		s := e.lastSequenceID
		after = &s
	}

	h, err := e.backend.GetWorkflowInstanceHistory(ctx, t.WorkflowInstance, after)
	if err != nil {
		return fmt.Errorf("getting workflow history: %w", err)
	}

	if err := e.replayHistory(h); err != nil {
		return err
	}

	if e.lastSequenceID != t.LastSequenceID {
		return &ReplayMismatchError{
			InstanceID: t.WorkflowInstance.InstanceID,
			Reason: fmt.Sprintf(
				"history ends at sequence %d, task expects %d", e.lastSequenceID, t.LastSequenceID),
		}
	}

	return nil
}

func (e *executor) replayHistory(h []*history.Event) error {
	e.workflowState.SetReplaying(true)
	defer e.workflowState.SetReplaying(false)

	for _, event := range h {
		if err := e.executeEvent(event); err != nil {
			return fmt.Errorf("replaying event: %w", err)
		}

		e.lastSequenceID = event.SequenceID
	}

	return nil
}

func (e *executor) executeNewEvents(newEvents []*history.Event) error {
	e.workflowState.SetReplaying(false)

	for _, event := range newEvents {
		if err := e.executeEvent(event); err != nil {
			return err
		}
	}

	if e.runner != nil && e.runner.Completed() {
		e.workflowCompleted(e.runner.Result(), e.runner.Error())
	}

	return nil
}

func (e *executor) executeEvent(event *history.Event) error {
	var err error

	switch event.Type {
	case history.EventType_WorkflowExecutionStarted:
		err = e.handleWorkflowExecutionStarted(event.Attributes.(*history.ExecutionStartedAttributes))

	case history.EventType_WorkflowExecutionFinished:
		// Ignore

	case history.EventType_WorkflowExecutionCanceled:
		err = e.handleWorkflowCanceled()

	case history.EventType_WorkflowTaskStarted:
		e.workflowState.SetTime(event.Timestamp)

	case history.EventType_TaskScheduled:
		err = e.handleTaskScheduled(event, event.Attributes.(*history.TaskScheduledAttributes))

	case history.EventType_TaskCompleted:
		err = e.handleTaskCompleted(event, event.Attributes.(*history.TaskCompletedAttributes))

	case history.EventType_TaskFailed:
		err = e.handleTaskFailed(event, event.Attributes.(*history.TaskFailedAttributes))

	case history.EventType_TimerScheduled:
		err = e.handleTimerScheduled(event, event.Attributes.(*history.TimerScheduledAttributes))

	case history.EventType_TimerFired:
		err = e.handleTimerFired(event)

	case history.EventType_TimerCanceled:
		e.handleTimerCanceled(event)

	case history.EventType_SignalReceived:
		err = e.handleSignalReceived(event.Attributes.(*history.SignalReceivedAttributes))

	default:
		return fmt.Errorf("unknown event type: %v", event.Type)
	}

	return err
}

func (e *executor) handleWorkflowExecutionStarted(a *history.ExecutionStartedAttributes) error {
	wfFn, err := e.registry.GetWorkflow(a.Name)
	if err != nil {
		return fmt.Errorf("workflow %q not found", a.Name)
	}

	e.runner = newWorkflowRunner(reflect.ValueOf(wfFn))

	return e.runner.Execute(e.workflowCtx, e.backend.Options().Converter, a.Inputs)
}

func (e *executor) handleWorkflowCanceled() error {
	e.cancel()

	return e.runner.Continue()
}

func (e *executor) handleTaskScheduled(event *history.Event, a *history.TaskScheduledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return e.mismatch(fmt.Sprintf("no command for scheduled task %q (event %d)", a.Name, event.ScheduleEventID))
	}

	sc, ok := c.(*command.ScheduleTaskCommand)
	if !ok {
		return e.mismatch(fmt.Sprintf("expected task command for event %d, got %s", event.ScheduleEventID, c.Type()))
	}

	if sc.Name != a.Name {
		return e.mismatch(fmt.Sprintf("history scheduled task %q, workflow scheduled %q", a.Name, sc.Name))
	}

	c.Commit()

	return nil
}

func (e *executor) handleTaskCompleted(event *history.Event, a *history.TaskCompletedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return e.mismatch(fmt.Sprintf("no pending future for task completed event %d", event.ScheduleEventID))
	}

	e.removeCommand(event.ScheduleEventID)
	e.workflowState.RemoveFuture(event.ScheduleEventID)

	if err := f(a.Result, nil); err != nil {
		return fmt.Errorf("setting task result: %w", err)
	}

	return e.runner.Continue()
}

func (e *executor) handleTaskFailed(event *history.Event, a *history.TaskFailedAttributes) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		return e.mismatch(fmt.Sprintf("no pending future for task failed event %d", event.ScheduleEventID))
	}

	taskName := ""
	if c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID); c != nil {
		if sc, ok := c.(*command.ScheduleTaskCommand); ok {
			taskName = sc.Name
		}
	}

	e.removeCommand(event.ScheduleEventID)
	e.workflowState.RemoveFuture(event.ScheduleEventID)

	if err := f(nil, &workflowerrors.TaskExecutionError{
		TaskName: taskName,
		Attempts: a.Attempts,
		Cause:    workflowerrors.ToError(a.Error),
	}); err != nil {
		return fmt.Errorf("setting task error: %w", err)
	}

	return e.runner.Continue()
}

func (e *executor) handleTimerScheduled(event *history.Event, a *history.TimerScheduledAttributes) error {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return e.mismatch(fmt.Sprintf("no command for scheduled timer (event %d)", event.ScheduleEventID))
	}

	c.Commit()

	return nil
}

func (e *executor) handleTimerFired(event *history.Event) error {
	f, ok := e.workflowState.FutureByScheduleEventID(event.ScheduleEventID)
	if !ok {
		// Timer was canceled, ignore
		return nil
	}

	e.removeCommand(event.ScheduleEventID)
	e.workflowState.RemoveFuture(event.ScheduleEventID)

	if err := f(nil, nil); err != nil {
		return fmt.Errorf("firing timer: %w", err)
	}

	return e.runner.Continue()
}

func (e *executor) handleTimerCanceled(event *history.Event) {
	c := e.workflowState.CommandByScheduleEventID(event.ScheduleEventID)
	if c == nil {
		return
	}

	if cc, ok := c.(command.CancelableCommand); ok && c.State() == command.CommandState_CancelPending {
		cc.HandleCancel()
	}

	e.workflowState.RemoveCommand(c)
}

func (e *executor) handleSignalReceived(a *history.SignalReceivedAttributes) error {
	workflowstate.ReceiveSignal(e.workflowState, a.Name, a.Arg)

	return e.runner.Continue()
}

func (e *executor) workflowCompleted(result payload.Payload, err error) {
	eventID := e.workflowState.GetNextScheduleEventID()

	cmd := command.NewCompleteWorkflowCommand(eventID, result, err)
	e.workflowState.AddCommand(cmd)
}

func (e *executor) removeCommand(scheduleEventID int64) {
	if c := e.workflowState.CommandByScheduleEventID(scheduleEventID); c != nil {
		e.workflowState.RemoveCommand(c)
	}
}

func (e *executor) mismatch(reason string) error {
	return &ReplayMismatchError{
		InstanceID: e.workflowState.Instance().InstanceID,
		Reason:     reason,
	}
}

func (e *executor) Close() {
	if e.runner != nil {
		// End workflow execution to prevent leaking the coroutine goroutine
		e.runner.Close()
	}
}
