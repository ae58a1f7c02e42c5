package command

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend/history"
)

func Test_ScheduleTaskCommand_Execute(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleTaskCommand(1, "PublishPost", nil, nil)
	require.Equal(t, CommandState_Pending, cmd.State())

	r := cmd.Execute(c)
	require.NotNil(t, r)
	require.Equal(t, CommandState_Committed, cmd.State())

	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_TaskScheduled, r.Events[0].Type)
	require.Equal(t, int64(1), r.Events[0].ScheduleEventID)

	// The same event is queued for the task workers
	require.Len(t, r.TaskEvents, 1)
	require.Equal(t, r.Events[0], r.TaskEvents[0])

	// Executing again is a no-op
	require.Nil(t, cmd.Execute(c))
}

func Test_ScheduleTaskCommand_CommitDoesNotEmit(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleTaskCommand(1, "PublishPost", nil, nil)
	cmd.Commit()

	require.Equal(t, CommandState_Committed, cmd.State())
	require.Nil(t, cmd.Execute(c))
}

func Test_ScheduleTimerCommand_Execute(t *testing.T) {
	c := clock.NewMock()
	c.Set(time.Now())

	at := c.Now().Add(time.Hour * 48)

	cmd := NewScheduleTimerCommand(1, at, "review")

	r := cmd.Execute(c)
	require.NotNil(t, r)
	require.Equal(t, CommandState_Committed, cmd.State())

	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_TimerScheduled, r.Events[0].Type)

	// The fired event is persisted now, hidden until the deadline
	require.Len(t, r.TimerEvents, 1)
	require.Equal(t, history.EventType_TimerFired, r.TimerEvents[0].Type)
	require.NotNil(t, r.TimerEvents[0].VisibleAt)
	require.Equal(t, at, *r.TimerEvents[0].VisibleAt)
}

func Test_ScheduleTimerCommand_CancelBeforeExecute(t *testing.T) {
	c := clock.NewMock()

	cmd := NewScheduleTimerCommand(1, c.Now().Add(time.Hour), "review")
	cmd.Cancel()

	require.Equal(t, CommandState_Canceled, cmd.State())

	// Nothing was emitted, nothing to revoke
	require.Nil(t, cmd.Execute(c))
}

func Test_ScheduleTimerCommand_CancelAfterCommit(t *testing.T) {
	c := clock.NewMock()
	c.Set(time.Now())

	cmd := NewScheduleTimerCommand(1, c.Now().Add(time.Hour), "review")

	r := cmd.Execute(c)
	require.NotNil(t, r)

	cmd.Cancel()
	require.Equal(t, CommandState_CancelPending, cmd.State())

	// Executing the pending cancellation emits the cancel event
	r = cmd.Execute(c)
	require.NotNil(t, r)
	require.Equal(t, CommandState_Canceled, cmd.State())
	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_TimerCanceled, r.Events[0].Type)
	require.Equal(t, int64(1), r.Events[0].ScheduleEventID)
}

func Test_ScheduleTimerCommand_HandleCancelDuringReplay(t *testing.T) {
	cmd := NewScheduleTimerCommand(1, time.Now().Add(time.Hour), "review")

	cmd.Commit()
	cmd.Cancel()
	require.Equal(t, CommandState_CancelPending, cmd.State())

	cmd.HandleCancel()
	require.Equal(t, CommandState_Canceled, cmd.State())
}

func Test_CompleteWorkflowCommand_Execute(t *testing.T) {
	c := clock.NewMock()

	cmd := NewCompleteWorkflowCommand(1, nil, nil)

	r := cmd.Execute(c)
	require.NotNil(t, r)
	require.True(t, r.Completed)
	require.Equal(t, CommandState_Done, cmd.State())

	require.Len(t, r.Events, 1)
	require.Equal(t, history.EventType_WorkflowExecutionFinished, r.Events[0].Type)
}

func Test_Command_InvalidTransitionPanics(t *testing.T) {
	cmd := NewScheduleTaskCommand(1, "PublishPost", nil, nil)
	cmd.Commit()

	require.Panics(t, func() {
		cmd.Commit()
	})
}
