package modflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/memory"
	"github.com/modflow/modflow/backend/sqlitestore"
	"github.com/modflow/modflow/client"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/worker"
	"github.com/modflow/modflow/workflow"
)

func runWorker(t *testing.T, b backend.Backend, register func(w *worker.Worker)) {
	t.Helper()

	options := worker.DefaultOptions
	options.PollingInterval = time.Millisecond * 10

	w := worker.New(b, &options)
	register(w)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	t.Cleanup(func() {
		cancel()
		require.NoError(t, w.WaitForCompletion())
		b.Close()
	})
}

func reviewWorkflow(ctx workflow.Context, postID string) (string, error) {
	approved, ok, err := workflow.WaitForSignal[bool](ctx, "review", time.Hour*48)
	if err != nil {
		return "", err
	}

	if !ok || approved {
		return "published " + postID, nil
	}

	return "rejected " + postID, nil
}

func Test_Engine_SignalBeforeDeadline(t *testing.T) {
	// Runs after the worker cleanup has shut everything down
	t.Cleanup(func() { goleak.VerifyNone(t) })

	b := memory.NewBackend()
	runWorker(t, b, func(w *worker.Worker) {
		require.NoError(t, w.RegisterWorkflow(reviewWorkflow))
	})

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, reviewWorkflow, "post-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := c.GetWorkflowInstanceState(ctx, instance)
		return err == nil && s == core.InstanceStateSuspended
	}, time.Second*10, time.Millisecond*10)

	require.NoError(t, c.SignalWorkflow(ctx, instance.InstanceID, "review", false))

	result, err := client.GetWorkflowResult[string](ctx, c, instance, time.Second*10)
	require.NoError(t, err)
	require.Equal(t, "rejected post-1", result)
}

func Test_Engine_Sqlite(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	b := sqlitestore.NewInMemoryBackend()
	runWorker(t, b, func(w *worker.Worker) {
		require.NoError(t, w.RegisterWorkflow(reviewWorkflow))
	})

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, reviewWorkflow, "post-2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := c.GetWorkflowInstanceState(ctx, instance)
		return err == nil && s == core.InstanceStateSuspended
	}, time.Second*10, time.Millisecond*10)

	require.NoError(t, c.SignalWorkflow(ctx, instance.InstanceID, "review", true))

	result, err := client.GetWorkflowResult[string](ctx, c, instance, time.Second*10)
	require.NoError(t, err)
	require.Equal(t, "published post-2", result)
}

var flakyAttempts atomic.Int32

func flakyTask(ctx context.Context) (string, error) {
	if flakyAttempts.Add(1) < 3 {
		return "", errors.New("transient")
	}

	return "ok", nil
}

func retryWorkflow(ctx workflow.Context) (string, error) {
	options := workflow.TaskOptions{
		Retry: workflow.RetryPolicy{
			MaxAttempts:   3,
			FirstInterval: time.Millisecond * 10,
		},
	}

	return workflow.ExecuteTask[string](ctx, options, flakyTask).Get(ctx)
}

func Test_Engine_TaskRetries(t *testing.T) {
	flakyAttempts.Store(0)

	b := memory.NewBackend()
	runWorker(t, b, func(w *worker.Worker) {
		require.NoError(t, w.RegisterWorkflow(retryWorkflow))
		require.NoError(t, w.RegisterTask(flakyTask))
	})

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, retryWorkflow)
	require.NoError(t, err)

	result, err := client.GetWorkflowResult[string](ctx, c, instance, time.Second*10)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, int32(3), flakyAttempts.Load())

	// Retries stay inside a single task execution: one scheduled, one terminal event
	h, err := b.GetWorkflowInstanceHistory(ctx, instance, nil)
	require.NoError(t, err)

	scheduled, completed := 0, 0
	for _, event := range h {
		switch event.Type {
		case history.EventType_TaskScheduled:
			scheduled++
		case history.EventType_TaskCompleted:
			completed++
		}
	}
	require.Equal(t, 1, scheduled)
	require.Equal(t, 1, completed)
}

var rejectedAttempts atomic.Int32

func rejectedTask(ctx context.Context) error {
	rejectedAttempts.Add(1)
	return workflow.NewPermanentError(errors.New("bad input"))
}

func permWorkflow(ctx workflow.Context) error {
	_, err := workflow.ExecuteTask[any](ctx, workflow.DefaultTaskOptions, rejectedTask).Get(ctx)
	return err
}

func Test_Engine_TaskPermanentError(t *testing.T) {
	rejectedAttempts.Store(0)

	b := memory.NewBackend()
	runWorker(t, b, func(w *worker.Worker) {
		require.NoError(t, w.RegisterWorkflow(permWorkflow))
		require.NoError(t, w.RegisterTask(rejectedTask))
	})

	c := client.New(b)
	ctx := context.Background()

	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, permWorkflow)
	require.NoError(t, err)

	_, err = client.GetWorkflowResult[any](ctx, c, instance, time.Second*10)

	// The task error crosses the history as a serialized error
	var werr *workflow.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, "TaskExecutionError", werr.Type)
	require.Contains(t, werr.Message, "rejectedTask")

	// No retries after a permanent error
	require.Equal(t, int32(1), rejectedAttempts.Load())
}
