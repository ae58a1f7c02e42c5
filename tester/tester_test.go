package tester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/workflow"
)

func timerWorkflow(ctx workflow.Context) (string, error) {
	if err := workflow.Sleep(ctx, time.Hour*48); err != nil {
		return "", err
	}

	return "done", nil
}

func Test_Tester_TimerWorkflow(t *testing.T) {
	tester := NewWorkflowTester[string](timerWorkflow)

	start := tester.Now()
	tester.Execute(context.Background())

	require.True(t, tester.WorkflowFinished())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "done", result)

	// Workflow time advanced by the full sleep, test time did not
	require.Equal(t, time.Hour*48, tester.Now().Sub(start))
}

func notifyTask(ctx context.Context, recipient string) (string, error) {
	return "notified " + recipient, nil
}

func notifyWorkflow(ctx workflow.Context, recipient string) (string, error) {
	return workflow.ExecuteTask[string](ctx, workflow.DefaultTaskOptions, notifyTask, recipient).Get(ctx)
}

func Test_Tester_RunsRealTask(t *testing.T) {
	tester := NewWorkflowTester[string](notifyWorkflow)
	require.NoError(t, tester.Registry().RegisterTask(notifyTask))

	tester.Execute(context.Background(), "admin")

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "notified admin", result)
}

func Test_Tester_MockedTask(t *testing.T) {
	tester := NewWorkflowTester[string](notifyWorkflow)

	tester.OnTask(notifyTask, mock.Anything, "admin").Return("mocked", nil)

	tester.Execute(context.Background(), "admin")

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "mocked", result)

	tester.AssertExpectations(t)
}

func Test_Tester_MockedTaskError(t *testing.T) {
	tester := NewWorkflowTester[string](notifyWorkflow)

	tester.OnTask(notifyTask, mock.Anything, "admin").Return("", errors.New("unreachable"))

	tester.Execute(context.Background(), "admin")

	_, err := tester.WorkflowResult()
	require.Error(t, err)
}

func signalOrTimeoutWorkflow(ctx workflow.Context) (string, error) {
	decision, ok, err := workflow.WaitForSignal[string](ctx, "review", time.Hour*48)
	if err != nil {
		return "", err
	}

	if !ok {
		return "timeout", nil
	}

	return decision, nil
}

func Test_Tester_SignalDelivery(t *testing.T) {
	tester := NewWorkflowTester[string](signalOrTimeoutWorkflow)

	tester.SignalWorkflow("review", "approved")

	tester.Execute(context.Background())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "approved", result)
}

func Test_Tester_CallbackBeforeDeadline(t *testing.T) {
	tester := NewWorkflowTester[string](signalOrTimeoutWorkflow)

	start := tester.Now()
	tester.ScheduleCallback(time.Hour*24, func() {
		tester.SignalWorkflow("review", "just in time")
	})

	tester.Execute(context.Background())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "just in time", result)

	// The signal arrived after one day, the workflow never saw the deadline
	require.Equal(t, time.Hour*24, tester.Now().Sub(start))
}

func Test_Tester_DeadlineExpires(t *testing.T) {
	tester := NewWorkflowTester[string](signalOrTimeoutWorkflow)

	tester.Execute(context.Background())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "timeout", result)
}
