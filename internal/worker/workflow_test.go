package worker

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/memory"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/registry"
	"github.com/modflow/modflow/workflow"
)

func approvalWorkflow(ctx workflow.Context) (string, error) {
	decision, ok, err := workflow.WaitForSignal[string](ctx, "review", time.Hour*48)
	if err != nil {
		return "", err
	}

	if !ok {
		return "timeout", nil
	}

	return "signal:" + decision, nil
}

func countTask(ctx context.Context) (int, error) {
	return 1, nil
}

func countWorkflow(ctx workflow.Context) (int, error) {
	return workflow.ExecuteTask[int](ctx, workflow.DefaultTaskOptions, countTask).Get(ctx)
}

type wtEnv struct {
	backend  backend.Backend
	clock    *clock.Mock
	instance *core.WorkflowInstance
	worker   *WorkflowTaskWorker
}

func newWorkflowTaskEnv(t *testing.T, r *registry.Registry) *wtEnv {
	t.Helper()

	c := clock.NewMock()
	c.Set(time.Now())

	b := memory.NewBackend(memory.WithClock(c))
	t.Cleanup(func() { b.Close() })

	w := NewWorkflowTaskWorker(b, r, c)
	t.Cleanup(w.Stop)

	return &wtEnv{
		backend:  b,
		clock:    c,
		instance: core.NewWorkflowInstance(uuid.NewString(), uuid.NewString()),
		worker:   w,
	}
}

func (e *wtEnv) startWorkflow(t *testing.T, name string) {
	t.Helper()

	started := history.NewPendingEvent(e.clock.Now(), history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{Name: name})

	require.NoError(t, e.backend.CreateWorkflowInstance(context.Background(), e.instance, started))
}

// runTask pumps one workflow task through the given worker, end to end.
func (e *wtEnv) runTask(t *testing.T, w *WorkflowTaskWorker) {
	t.Helper()
	ctx := context.Background()

	task, err := w.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	result, err := w.Execute(ctx, task)
	require.NoError(t, err)

	require.NoError(t, w.Complete(ctx, result, task))
}

func Test_WorkflowTaskWorker_ReplayMismatchFailsInstance(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(countWorkflow, registry.WithName("versioned")))

	e := newWorkflowTaskEnv(t, r)
	e.startWorkflow(t, "versioned")

	ctx := context.Background()

	e.runTask(t, e.worker)

	// Simulate the task worker completing the scheduled task
	task, err := e.backend.GetTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	res, err := converter.DefaultConverter.To(1)
	require.NoError(t, err)
	completed := history.NewPendingEvent(e.clock.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: res}, history.ScheduleEventID(task.Event.ScheduleEventID))
	require.NoError(t, e.backend.CompleteTask(ctx, task, completed))

	// The workflow code changed incompatibly: it now waits instead of running a task.
	// A fresh worker replays the recorded history against the new code and diverges.
	r2 := registry.New()
	require.NoError(t, r2.RegisterWorkflow(approvalWorkflow, registry.WithName("versioned")))
	w2 := NewWorkflowTaskWorker(e.backend, r2, e.clock)
	t.Cleanup(w2.Stop)

	e.runTask(t, w2)

	// The mismatch is fatal: the instance is failed, not redelivered forever
	s, err := e.backend.GetWorkflowInstanceState(ctx, e.instance)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateFailed, s)

	h, err := e.backend.GetWorkflowInstanceHistory(ctx, e.instance, nil)
	require.NoError(t, err)
	require.NotEmpty(t, h)

	last := h[len(h)-1]
	require.Equal(t, history.EventType_WorkflowExecutionFinished, last.Type)

	a := last.Attributes.(*history.ExecutionCompletedAttributes)
	require.NotNil(t, a.Error)
	require.Equal(t, "ReplayMismatchError", a.Error.Type)

	// Nothing left to deliver for this instance
	next, err := e.worker.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func Test_WorkflowTaskWorker_StaleExecutorRetriesWithFreshReplay(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(approvalWorkflow, registry.WithName("approvalWorkflow")))

	e := newWorkflowTaskEnv(t, r)
	e.startWorkflow(t, "approvalWorkflow")

	ctx := context.Background()

	e.runTask(t, e.worker)

	arg, err := converter.DefaultConverter.To("approved")
	require.NoError(t, err)
	signal := history.NewPendingEvent(e.clock.Now(), history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{Name: "review", Arg: arg})
	require.NoError(t, e.backend.SignalWorkflow(ctx, e.instance.InstanceID, signal))

	task, err := e.worker.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Execute without completing, the cached executor state moves ahead of the
	// stored history
	_, err = e.worker.Execute(ctx, task)
	require.NoError(t, err)

	// Re-executing the same task recovers with a fresh replay instead of failing
	// the instance
	result, err := e.worker.Execute(ctx, task)
	require.NoError(t, err)
	require.NoError(t, e.worker.Complete(ctx, result, task))

	s, err := e.backend.GetWorkflowInstanceState(ctx, e.instance)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateCompleted, s)
}
