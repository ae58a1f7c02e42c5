package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/workflow"
)

func sampleWorkflow(ctx workflow.Context) error {
	return nil
}

func sampleTask(ctx context.Context) error {
	return nil
}

func Test_RegisterWorkflow(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(sampleWorkflow))

	wf, err := r.GetWorkflow("sampleWorkflow")
	require.NoError(t, err)
	require.NotNil(t, wf)
}

func Test_RegisterWorkflow_Duplicate(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(sampleWorkflow))
	require.Error(t, r.RegisterWorkflow(sampleWorkflow))
}

func Test_RegisterWorkflow_CustomName(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(sampleWorkflow, WithName("custom")))

	_, err := r.GetWorkflow("custom")
	require.NoError(t, err)

	_, err = r.GetWorkflow("sampleWorkflow")
	require.Error(t, err)
}

func Test_RegisterWorkflow_RequiresWorkflowContext(t *testing.T) {
	r := New()

	require.Error(t, r.RegisterWorkflow(func() error { return nil }))
	require.Error(t, r.RegisterWorkflow(func(ctx context.Context) error { return nil }))
	require.Error(t, r.RegisterWorkflow("not a function"))
}

func Test_RegisterTask(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterTask(sampleTask))

	task, err := r.GetTask("sampleTask")
	require.NoError(t, err)
	require.NotNil(t, task)

	require.Error(t, r.RegisterTask(sampleTask))
}

func Test_GetWorkflow_NotFound(t *testing.T) {
	r := New()

	_, err := r.GetWorkflow("missing")
	require.Error(t, err)
}
