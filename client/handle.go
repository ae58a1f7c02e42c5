package client

import (
	"context"
	"time"

	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/workflow"
)

// Handle is a client-side reference to a single workflow instance.
type Handle struct {
	client   *Client
	instance *workflow.Instance
}

// GetHandle returns a handle for an existing workflow instance. It fails with
// backend.ErrInstanceNotFound if no instance with the given ID exists.
func (c *Client) GetHandle(ctx context.Context, instanceID string) (*Handle, error) {
	instance := core.NewWorkflowInstance(instanceID, "")

	if _, err := c.backend.GetWorkflowInstanceState(ctx, instance); err != nil {
		return nil, err
	}

	return &Handle{client: c, instance: instance}, nil
}

// NewHandle wraps an instance returned from CreateWorkflowInstance without checking
// the backend.
func (c *Client) NewHandle(instance *workflow.Instance) *Handle {
	return &Handle{client: c, instance: instance}
}

func (h *Handle) InstanceID() string {
	return h.instance.InstanceID
}

func (h *Handle) Instance() *workflow.Instance {
	return h.instance
}

func (h *Handle) Signal(ctx context.Context, name string, arg any) error {
	return h.client.SignalWorkflow(ctx, h.instance.InstanceID, name, arg)
}

func (h *Handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflowInstance(ctx, h.instance)
}

func (h *Handle) State(ctx context.Context) (core.InstanceState, error) {
	return h.client.GetWorkflowInstanceState(ctx, h.instance)
}

func (h *Handle) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	return h.client.WaitForWorkflowInstance(ctx, h.instance, timeout)
}
