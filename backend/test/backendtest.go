// Package test contains a conformance suite run against every backend
// implementation.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
)

// BackendTest runs the conformance suite. setup is called per test with a mock
// clock the backend must use for visibility and deadline decisions.
func BackendTest(
	t *testing.T,
	setup func(c clock.Clock, opts ...backend.BackendOption) backend.Backend,
	teardown func(b backend.Backend),
) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend)
	}{
		{
			name: "GetWorkflowTask_ReturnsNilWhenEmpty",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "GetTask_ReturnsNilWhenEmpty",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				task, err := b.GetTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "CreateWorkflowInstance_DoesNotError",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())

				err := b.CreateWorkflowInstance(ctx, wfi, startedEvent(c))
				require.NoError(t, err)

				s, err := b.GetWorkflowInstanceState(ctx, wfi)
				require.NoError(t, err)
				require.Equal(t, core.InstanceStateRunning, s)
			},
		},
		{
			name: "CreateWorkflowInstance_SameInstanceIDErrors",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())

				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				err := b.CreateWorkflowInstance(ctx, wfi, startedEvent(c))
				require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
			},
		},
		{
			name: "GetWorkflowInstanceState_ErrorsWhenNotFound",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())

				_, err := b.GetWorkflowInstanceState(ctx, wfi)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "GetWorkflowTask_ReturnsTask",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.InstanceID)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_WorkflowExecutionStarted, task.NewEvents[0].Type)
			},
		},
		{
			name: "GetWorkflowTask_LocksInstance",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)

				// The instance is locked, no task is handed out again
				task2, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task2)
			},
		},
		{
			name: "CompleteWorkflowTask_AppendsHistory",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)

				executed := withSequenceIDs(1, task.NewEvents)
				err = b.CompleteWorkflowTask(ctx, task, core.InstanceStateRunning, executed, nil, nil, nil)
				require.NoError(t, err)

				h, err := b.GetWorkflowInstanceHistory(ctx, wfi, nil)
				require.NoError(t, err)
				require.Len(t, h, 1)
				require.Equal(t, int64(1), h[0].SequenceID)

				// Pending events were consumed
				task2, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task2)
			},
		},
		{
			name: "SignalWorkflow_ErrorsWhenNotWaiting",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				err := b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review"))
				require.ErrorIs(t, err, backend.ErrNoWaitingInstance)
			},
		},
		{
			name: "SignalWorkflow_DeliveredWhenWaiting",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := suspendOnWait(t, ctx, c, b, "review", c.Now().Add(time.Hour*48))

				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_SignalReceived, task.NewEvents[0].Type)
			},
		},
		{
			name: "SignalWorkflow_ErrorsWhenWaitingForOtherSignal",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := suspendOnWait(t, ctx, c, b, "review", c.Now().Add(time.Hour*48))

				err := b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "other"))
				require.ErrorIs(t, err, backend.ErrNoWaitingInstance)
			},
		},
		{
			name: "SignalWorkflow_SecondSignalErrors",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := suspendOnWait(t, ctx, c, b, "review", c.Now().Add(time.Hour*48))

				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

				// The wait is already resolved
				err := b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review"))
				require.ErrorIs(t, err, backend.ErrNoWaitingInstance)
			},
		},
		{
			name: "SignalWorkflow_StaleAfterDeadline",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				c.Set(deadline.Add(time.Minute))

				err := b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review"))
				require.ErrorIs(t, err, backend.ErrStaleSignal)
			},
		},
		{
			name: "SignalWorkflow_AcceptedAtDeadline",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				c.Set(deadline)

				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))
			},
		},
		{
			name: "SignalWorkflow_GraceWindowAllowsLateSignal",
			f: nil, // replaced below, needs custom options
		},
		{
			name: "BroadcastSignal_ReachesWaitingInstances",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi1 := suspendOnWait(t, ctx, c, b, "review", c.Now().Add(time.Hour))
				wfi2 := suspendOnWait(t, ctx, c, b, "review", c.Now().Add(time.Hour))
				suspendOnWait(t, ctx, c, b, "other", c.Now().Add(time.Hour))

				delivered, err := b.BroadcastSignal(ctx, signalEvent(c, "review"))
				require.NoError(t, err)
				require.Equal(t, 2, delivered)

				// Both waiting instances have work now
				seen := map[string]bool{}
				for i := 0; i < 2; i++ {
					task, err := b.GetWorkflowTask(ctx)
					require.NoError(t, err)
					require.NotNil(t, task)
					seen[task.WorkflowInstance.InstanceID] = true
				}

				require.True(t, seen[wfi1.InstanceID])
				require.True(t, seen[wfi2.InstanceID])
			},
		},
		{
			name: "BroadcastSignal_NoWaitersIsNotAnError",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				delivered, err := b.BroadcastSignal(ctx, signalEvent(c, "review"))
				require.NoError(t, err)
				require.Equal(t, 0, delivered)
			},
		},
		{
			name: "TimerEvent_HiddenUntilVisibleAt",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				// Timer not due yet
				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)

				c.Set(deadline)

				task, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 1)
				require.Equal(t, history.EventType_TimerFired, task.NewEvents[0].Type)
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.InstanceID)
			},
		},
		{
			name: "TimerAndSignal_SignalOrderedFirst",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				c.Set(deadline)
				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 2)
				require.Equal(t, history.EventType_SignalReceived, task.NewEvents[0].Type)
				require.Equal(t, history.EventType_TimerFired, task.NewEvents[1].Type)
			},
		},
		{
			name: "CompleteWorkflowTask_ConcurrentSignalDiscardsResults",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				c.Set(deadline)

				// The timeout is picked up for processing
				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, history.EventType_TimerFired, task.NewEvents[0].Type)

				// A signal races the in-flight timeout processing
				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

				// Completing against the modified instance fails
				executed := withSequenceIDs(2, task.NewEvents)
				err = b.CompleteWorkflowTask(ctx, task, core.InstanceStateRunning, executed, nil, nil, nil)
				require.ErrorIs(t, err, backend.ErrConcurrentModification)

				// The redelivered task includes the signal, ordered first
				task, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Len(t, task.NewEvents, 2)
				require.Equal(t, history.EventType_SignalReceived, task.NewEvents[0].Type)
				require.Equal(t, history.EventType_TimerFired, task.NewEvents[1].Type)
			},
		},
		{
			name: "CompleteWorkflowTask_TimerCanceledRemovesPendingTimer",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				deadline := c.Now().Add(time.Hour * 48)
				wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

				// The signal resolves the wait, the workflow cancels its timer
				require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)

				canceled := history.NewPendingEvent(c.Now(), history.EventType_TimerCanceled,
					&history.TimerCanceledAttributes{}, history.ScheduleEventID(1))
				executed := withSequenceIDs(2, append(task.NewEvents, canceled))

				err = b.CompleteWorkflowTask(ctx, task, core.InstanceStateRunning, executed, nil, nil, nil)
				require.NoError(t, err)

				// Advancing past the deadline delivers nothing
				c.Set(deadline.Add(time.Hour))

				task, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "CompleteTask_DeliversResultToInstance",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				wtask, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)

				scheduled := history.NewPendingEvent(c.Now(), history.EventType_TaskScheduled,
					&history.TaskScheduledAttributes{Name: "PublishPost"}, history.ScheduleEventID(1))

				executed := withSequenceIDs(1, wtask.NewEvents)
				err = b.CompleteWorkflowTask(ctx, wtask, core.InstanceStateRunning,
					executed, []*history.Event{scheduled}, nil, nil)
				require.NoError(t, err)

				task, err := b.GetTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, wfi.InstanceID, task.WorkflowInstance.InstanceID)

				attrs := task.Event.Attributes.(*history.TaskScheduledAttributes)
				require.Equal(t, "PublishPost", attrs.Name)

				// Task is locked while in progress
				task2, err := b.GetTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task2)

				result := history.NewPendingEvent(c.Now(), history.EventType_TaskCompleted,
					&history.TaskCompletedAttributes{}, history.ScheduleEventID(task.Event.ScheduleEventID))
				require.NoError(t, b.CompleteTask(ctx, task, result))

				wtask, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, wtask)
				require.Len(t, wtask.NewEvents, 1)
				require.Equal(t, history.EventType_TaskCompleted, wtask.NewEvents[0].Type)
			},
		},
		{
			name: "CancelWorkflowInstance_DeliversCancellation",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				executed := withSequenceIDs(1, task.NewEvents)
				require.NoError(t, b.CompleteWorkflowTask(ctx, task, core.InstanceStateRunning, executed, nil, nil, nil))

				require.NoError(t, b.CancelWorkflowInstance(ctx, wfi, history.NewWorkflowCancellationEvent(c.Now())))

				task, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, history.EventType_WorkflowExecutionCanceled, task.NewEvents[0].Type)
			},
		},
		{
			name: "CompleteWorkflowTask_FinishedInstanceGetsNoMoreTasks",
			f: func(t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend) {
				wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

				task, err := b.GetWorkflowTask(ctx)
				require.NoError(t, err)

				finished := history.NewPendingEvent(c.Now(), history.EventType_WorkflowExecutionFinished,
					&history.ExecutionCompletedAttributes{})
				executed := withSequenceIDs(1, append(task.NewEvents, finished))

				require.NoError(t, b.CompleteWorkflowTask(ctx, task, core.InstanceStateCompleted, executed, nil, nil, nil))

				s, err := b.GetWorkflowInstanceState(ctx, wfi)
				require.NoError(t, err)
				require.Equal(t, core.InstanceStateCompleted, s)

				err = b.CancelWorkflowInstance(ctx, wfi, history.NewWorkflowCancellationEvent(c.Now()))
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)

				task, err = b.GetWorkflowTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
	}

	for _, tt := range tests {
		if tt.f == nil {
			continue
		}

		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewMock()
			c.Set(time.Now())

			b := setup(c)
			ctx := context.Background()

			tt.f(t, ctx, c, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}

	t.Run("SignalWorkflow_GraceWindowAllowsLateSignal", func(t *testing.T) {
		c := clock.NewMock()
		c.Set(time.Now())

		b := setup(c, backend.WithSignalGraceWindow(time.Minute*5))
		ctx := context.Background()

		deadline := c.Now().Add(time.Hour * 48)
		wfi := suspendOnWait(t, ctx, c, b, "review", deadline)

		// Shortly after the deadline, within the grace window and before the timeout
		// was processed
		c.Set(deadline.Add(time.Minute))
		require.NoError(t, b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review")))

		// Beyond the grace window
		c.Set(deadline.Add(time.Minute * 10))
		err := b.SignalWorkflow(ctx, wfi.InstanceID, signalEvent(c, "review"))
		require.Error(t, err)

		if teardown != nil {
			teardown(b)
		}
	})
}

func startedEvent(c clock.Clock) *history.Event {
	return history.NewPendingEvent(c.Now(), history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{Name: "Workflow"})
}

func signalEvent(c clock.Clock, name string) *history.Event {
	return history.NewPendingEvent(c.Now(), history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{Name: name})
}

func withSequenceIDs(start int64, events []*history.Event) []*history.Event {
	for i, event := range events {
		event.SequenceID = start + int64(i)
	}

	return events
}

// suspendOnWait creates an instance and completes its first workflow task the way
// the executor would for a wait-for-signal with a deadline: a scheduled timer whose
// fired event becomes visible at the deadline, and an open wait recorded on the
// instance.
func suspendOnWait(
	t *testing.T, ctx context.Context, c *clock.Mock, b backend.Backend,
	signal string, deadline time.Time,
) *core.WorkflowInstance {
	t.Helper()

	wfi := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString())
	require.NoError(t, b.CreateWorkflowInstance(ctx, wfi, startedEvent(c)))

	task, err := b.GetWorkflowTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	scheduled := history.NewPendingEvent(c.Now(), history.EventType_TimerScheduled,
		&history.TimerScheduledAttributes{At: deadline}, history.ScheduleEventID(1))
	fired := history.NewPendingEvent(c.Now(), history.EventType_TimerFired,
		&history.TimerFiredAttributes{At: deadline}, history.ScheduleEventID(1), history.VisibleAt(deadline))

	executed := withSequenceIDs(1, append(task.NewEvents, scheduled))

	err = b.CompleteWorkflowTask(ctx, task, core.InstanceStateSuspended,
		executed, nil, []*history.Event{fired},
		&core.OpenWait{Signal: signal, Deadline: &deadline})
	require.NoError(t, err)

	return wfi
}
