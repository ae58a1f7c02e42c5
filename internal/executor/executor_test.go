package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/memory"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/registry"
	"github.com/modflow/modflow/workflow"
)

func simpleWorkflow(ctx workflow.Context, name string) (string, error) {
	return "hello " + name, nil
}

func addTask(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func taskWorkflow(ctx workflow.Context) (int, error) {
	return workflow.ExecuteTask[int](ctx, workflow.DefaultTaskOptions, addTask, 1, 2).Get(ctx)
}

func waitWorkflow(ctx workflow.Context) (string, error) {
	decision, ok, err := workflow.WaitForSignal[string](ctx, "review", time.Hour*48)
	if err != nil {
		return "", err
	}

	if !ok {
		return "timeout", nil
	}

	return "signal:" + decision, nil
}

type env struct {
	backend  backend.Backend
	registry *registry.Registry
	clock    *clock.Mock
	instance *core.WorkflowInstance
}

func newEnv(t *testing.T) *env {
	t.Helper()

	c := clock.NewMock()
	c.Set(time.Now())

	b := memory.NewBackend(memory.WithClock(c))
	t.Cleanup(func() { b.Close() })

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(simpleWorkflow, registry.WithName("simpleWorkflow")))
	require.NoError(t, r.RegisterWorkflow(taskWorkflow, registry.WithName("taskWorkflow")))
	require.NoError(t, r.RegisterWorkflow(waitWorkflow, registry.WithName("waitWorkflow")))

	return &env{
		backend:  b,
		registry: r,
		clock:    c,
		instance: core.NewWorkflowInstance(uuid.NewString(), uuid.NewString()),
	}
}

func (e *env) newExecutor() WorkflowExecutor {
	return NewExecutor(slog.Default(), e.registry, e.backend, e.instance, e.clock)
}

func (e *env) startWorkflow(t *testing.T, name string, args ...any) {
	t.Helper()

	inputs := make([]payload.Payload, 0, len(args))
	for _, arg := range args {
		p, err := converter.DefaultConverter.To(arg)
		require.NoError(t, err)
		inputs = append(inputs, p)
	}

	started := history.NewPendingEvent(e.clock.Now(), history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{Name: name, Inputs: inputs})

	require.NoError(t, e.backend.CreateWorkflowInstance(context.Background(), e.instance, started))
}

// runTask pumps one workflow task through the executor and checkpoints the result,
// the way the workflow worker does.
func (e *env) runTask(t *testing.T, ex WorkflowExecutor) *ExecutionResult {
	t.Helper()
	ctx := context.Background()

	task, err := e.backend.GetWorkflowTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	result, err := ex.ExecuteTask(ctx, task)
	require.NoError(t, err)

	err = e.backend.CompleteWorkflowTask(ctx, task, result.State,
		result.ExecutedEvents, result.TaskEvents, result.TimerEvents, result.OpenWait)
	require.NoError(t, err)

	return result
}

func finishedResult(t *testing.T, events []*history.Event) string {
	t.Helper()

	for _, event := range events {
		if event.Type == history.EventType_WorkflowExecutionFinished {
			a := event.Attributes.(*history.ExecutionCompletedAttributes)
			require.Nil(t, a.Error)

			var r string
			require.NoError(t, converter.DefaultConverter.From(a.Result, &r))
			return r
		}
	}

	require.FailNow(t, "no finished event")
	return ""
}

func Test_Executor_SimpleWorkflowCompletes(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "simpleWorkflow", "world")

	ex := e.newExecutor()
	defer ex.Close()

	result := e.runTask(t, ex)

	require.True(t, result.Completed)
	require.Equal(t, core.InstanceStateCompleted, result.State)
	require.Equal(t, "hello world", finishedResult(t, result.ExecutedEvents))

	// Sequence IDs are assigned in order
	for i, event := range result.ExecutedEvents {
		require.Equal(t, int64(i+1), event.SequenceID)
	}
}

func Test_Executor_TaskScheduledAndCompleted(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "taskWorkflow")

	ex := e.newExecutor()
	defer ex.Close()

	ctx := context.Background()

	result := e.runTask(t, ex)
	require.False(t, result.Completed)
	require.Equal(t, core.InstanceStateRunning, result.State)
	require.Len(t, result.TaskEvents, 1)

	attrs := result.TaskEvents[0].Attributes.(*history.TaskScheduledAttributes)
	require.Equal(t, "addTask", attrs.Name)

	// Simulate the task worker
	task, err := e.backend.GetTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	r, err := converter.DefaultConverter.To(3)
	require.NoError(t, err)

	completed := history.NewPendingEvent(e.clock.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: r}, history.ScheduleEventID(task.Event.ScheduleEventID))
	require.NoError(t, e.backend.CompleteTask(ctx, task, completed))

	result = e.runTask(t, ex)
	require.True(t, result.Completed)

	var got int
	for _, event := range result.ExecutedEvents {
		if event.Type == history.EventType_WorkflowExecutionFinished {
			a := event.Attributes.(*history.ExecutionCompletedAttributes)
			require.NoError(t, converter.DefaultConverter.From(a.Result, &got))
		}
	}
	require.Equal(t, 3, got)
}

func Test_Executor_WaitForSignal_Suspends(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ex := e.newExecutor()
	defer ex.Close()

	result := e.runTask(t, ex)

	require.False(t, result.Completed)
	require.Equal(t, core.InstanceStateSuspended, result.State)

	require.NotNil(t, result.OpenWait)
	require.Equal(t, "review", result.OpenWait.Signal)
	require.NotNil(t, result.OpenWait.Deadline)
	require.Equal(t, e.clock.Now().Add(time.Hour*48), *result.OpenWait.Deadline)

	// The timer fired event is persisted up front, hidden until the deadline
	require.Len(t, result.TimerEvents, 1)
	require.Equal(t, history.EventType_TimerFired, result.TimerEvents[0].Type)
	require.Equal(t, e.clock.Now().Add(time.Hour*48), *result.TimerEvents[0].VisibleAt)
}

func Test_Executor_SignalResolvesWait(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ex := e.newExecutor()
	defer ex.Close()

	ctx := context.Background()

	e.runTask(t, ex)

	arg, err := converter.DefaultConverter.To("approved")
	require.NoError(t, err)
	signal := history.NewPendingEvent(e.clock.Now(), history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{Name: "review", Arg: arg})
	require.NoError(t, e.backend.SignalWorkflow(ctx, e.instance.InstanceID, signal))

	result := e.runTask(t, ex)

	require.True(t, result.Completed)
	require.Equal(t, core.InstanceStateCompleted, result.State)
	require.Nil(t, result.OpenWait)
	require.Equal(t, "signal:approved", finishedResult(t, result.ExecutedEvents))

	// The pending timer was canceled
	var canceled bool
	for _, event := range result.ExecutedEvents {
		if event.Type == history.EventType_TimerCanceled {
			canceled = true
		}
	}
	require.True(t, canceled)

	// No task was ever scheduled
	require.Empty(t, result.TaskEvents)
}

func Test_Executor_SignalAtDeadlineWins(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ex := e.newExecutor()
	defer ex.Close()

	ctx := context.Background()

	result := e.runTask(t, ex)
	deadline := *result.OpenWait.Deadline

	// The signal arrives at the exact moment the timeout fires
	e.clock.Set(deadline)

	arg, err := converter.DefaultConverter.To("approved")
	require.NoError(t, err)
	signal := history.NewPendingEvent(e.clock.Now(), history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{Name: "review", Arg: arg})
	require.NoError(t, e.backend.SignalWorkflow(ctx, e.instance.InstanceID, signal))

	// Both stimuli are delivered in the same task; the signal branch wins
	result = e.runTask(t, ex)

	require.True(t, result.Completed)
	require.Equal(t, core.InstanceStateCompleted, result.State)
	require.Equal(t, "signal:approved", finishedResult(t, result.ExecutedEvents))
	require.Empty(t, result.TaskEvents)
}

func Test_Executor_DeadlineResolvesWait(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ex := e.newExecutor()
	defer ex.Close()

	e.runTask(t, ex)

	e.clock.Set(e.clock.Now().Add(time.Hour * 48))

	result := e.runTask(t, ex)

	require.True(t, result.Completed)
	require.Equal(t, "timeout", finishedResult(t, result.ExecutedEvents))
}

func Test_Executor_ReplayAfterRestart(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ctx := context.Background()

	// First executor suspends the workflow, then the process "crashes"
	ex := e.newExecutor()
	e.runTask(t, ex)
	ex.Close()

	arg, err := converter.DefaultConverter.To("approved")
	require.NoError(t, err)
	signal := history.NewPendingEvent(e.clock.Now(), history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{Name: "review", Arg: arg})
	require.NoError(t, e.backend.SignalWorkflow(ctx, e.instance.InstanceID, signal))

	// A fresh executor replays the recorded history, then applies the signal
	ex2 := e.newExecutor()
	defer ex2.Close()

	result := e.runTask(t, ex2)

	require.True(t, result.Completed)
	require.Equal(t, "signal:approved", finishedResult(t, result.ExecutedEvents))

	// Replayed commands were committed, not re-executed: no second TimerScheduled
	for _, event := range result.ExecutedEvents {
		require.NotEqual(t, history.EventType_TimerScheduled, event.Type)
	}
}

func Test_Executor_CachedStateAheadOfHistory(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ctx := context.Background()

	ex := e.newExecutor()
	defer ex.Close()

	task, err := e.backend.GetWorkflowTask(ctx)
	require.NoError(t, err)

	result, err := ex.ExecuteTask(ctx, task)
	require.NoError(t, err)

	require.NoError(t, e.backend.CompleteWorkflowTask(ctx, task, result.State,
		result.ExecutedEvents, result.TaskEvents, result.TimerEvents, result.OpenWait))

	// Handing the executor an older task again must fail, its state is ahead
	_, err = ex.ExecuteTask(ctx, task)

	var rme *ReplayMismatchError
	require.ErrorAs(t, err, &rme)
}

func Test_Executor_CloseStopsWorkflowGoroutine(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "waitWorkflow")

	ex := e.newExecutor()

	// Suspend the workflow, its coroutine stays parked until the executor is closed
	e.runTask(t, ex)

	ex.Close()
	e.backend.Close()

	goleak.VerifyNone(t)
}

func Test_Executor_ReplayMismatchOnDivergentWorkflow(t *testing.T) {
	e := newEnv(t)
	e.startWorkflow(t, "taskWorkflow")

	ctx := context.Background()

	ex := e.newExecutor()
	result := e.runTask(t, ex)
	require.Len(t, result.TaskEvents, 1)
	ex.Close()

	// The workflow code changes incompatibly: it now waits instead of running a task
	r2 := registry.New()
	require.NoError(t, r2.RegisterWorkflow(waitWorkflow, registry.WithName("taskWorkflow")))
	e.registry = r2

	task, err := e.backend.GetTask(ctx)
	require.NoError(t, err)

	res, err := converter.DefaultConverter.To(3)
	require.NoError(t, err)
	completed := history.NewPendingEvent(e.clock.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: res}, history.ScheduleEventID(task.Event.ScheduleEventID))
	require.NoError(t, e.backend.CompleteTask(ctx, task, completed))

	ex2 := e.newExecutor()
	defer ex2.Close()

	wtask, err := e.backend.GetWorkflowTask(ctx)
	require.NoError(t, err)

	_, err = ex2.ExecuteTask(ctx, wtask)

	var rme *ReplayMismatchError
	require.ErrorAs(t, err, &rme)
}
