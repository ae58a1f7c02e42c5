// Package client starts, signals, and queries workflow instances.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
	a "github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/fn"
	"github.com/modflow/modflow/internal/workflowerrors"
	"github.com/modflow/modflow/workflow"
)

var ErrWorkflowCanceled = errors.New("workflow canceled")

type WorkflowInstanceOptions struct {
	InstanceID string
}

type Client struct {
	backend backend.Backend
	clock   clock.Clock
}

func New(backend backend.Backend) *Client {
	return &Client{
		backend: backend,
		clock:   clock.New(),
	}
}

// CreateWorkflowInstance creates a new workflow instance of the given workflow.
func (c *Client) CreateWorkflowInstance(ctx context.Context, options WorkflowInstanceOptions, wf workflow.Workflow, args ...any) (*workflow.Instance, error) {
	var workflowName string

	if name, ok := wf.(string); ok {
		workflowName = name
	} else {
		workflowName = fn.Name(wf)

		// Check arguments if actual workflow function given here
		if err := a.ParamsMatch(wf, args...); err != nil {
			return nil, err
		}
	}

	inputs, err := a.ArgsToInputs(c.backend.Options().Converter, args...)
	if err != nil {
		return nil, fmt.Errorf("converting arguments: %w", err)
	}

	instanceID := options.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	wfi := core.NewWorkflowInstance(instanceID, uuid.NewString())

	ctx, span := c.backend.Tracer().Start(ctx, fmt.Sprintf("CreateWorkflowInstance: %s", workflowName), trace.WithAttributes(
		attribute.String("instance_id", wfi.InstanceID),
		attribute.String("workflow", workflowName),
	))
	defer span.End()

	startedEvent := history.NewPendingEvent(
		c.clock.Now(),
		history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{
			Name:   workflowName,
			Inputs: inputs,
		})

	if err := c.backend.CreateWorkflowInstance(ctx, wfi, startedEvent); err != nil {
		return nil, fmt.Errorf("creating workflow instance: %w", err)
	}

	c.backend.Options().Logger.DebugContext(ctx, "created workflow instance",
		"instance_id", wfi.InstanceID,
		"execution_id", wfi.ExecutionID,
		"workflow", workflowName,
	)

	return wfi, nil
}

// CancelWorkflowInstance cancels a running workflow instance.
func (c *Client) CancelWorkflowInstance(ctx context.Context, instance *workflow.Instance) error {
	ctx, span := c.backend.Tracer().Start(ctx, "CancelWorkflowInstance", trace.WithAttributes(
		attribute.String("instance_id", instance.InstanceID),
	))
	defer span.End()

	cancellationEvent := history.NewWorkflowCancellationEvent(c.clock.Now())
	return c.backend.CancelWorkflowInstance(ctx, instance, cancellationEvent)
}

// SignalWorkflow delivers a signal to a single workflow instance. The instance must
// be waiting for a signal with the given name, otherwise backend.ErrNoWaitingInstance
// or backend.ErrStaleSignal is returned.
func (c *Client) SignalWorkflow(ctx context.Context, instanceID string, name string, arg any) error {
	ctx, span := c.backend.Tracer().Start(ctx, "SignalWorkflow", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("signal", name),
	))
	defer span.End()

	signalEvent, err := c.signalEvent(name, arg)
	if err != nil {
		return err
	}

	if err := c.backend.SignalWorkflow(ctx, instanceID, signalEvent); err != nil {
		span.RecordError(err)
		return err
	}

	c.backend.Options().Logger.DebugContext(ctx, "signaled workflow instance",
		"instance_id", instanceID, "signal", name)

	return nil
}

// PublishSignal delivers a signal to every workflow instance currently waiting for a
// signal with the given name. It returns the number of instances that received the
// signal. Publishing to a name no instance waits for is not an error.
func (c *Client) PublishSignal(ctx context.Context, name string, arg any) (int, error) {
	ctx, span := c.backend.Tracer().Start(ctx, "PublishSignal", trace.WithAttributes(
		attribute.String("signal", name),
	))
	defer span.End()

	signalEvent, err := c.signalEvent(name, arg)
	if err != nil {
		return 0, err
	}

	delivered, err := c.backend.BroadcastSignal(ctx, signalEvent)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	c.backend.Options().Logger.DebugContext(ctx, "published signal",
		"signal", name, "delivered", delivered)

	return delivered, nil
}

func (c *Client) signalEvent(name string, arg any) (*history.Event, error) {
	input, err := c.backend.Options().Converter.To(arg)
	if err != nil {
		return nil, fmt.Errorf("converting signal argument: %w", err)
	}

	return history.NewPendingEvent(
		c.clock.Now(),
		history.EventType_SignalReceived,
		&history.SignalReceivedAttributes{
			Name: name,
			Arg:  input,
		},
	), nil
}

// GetWorkflowInstanceState returns the current state of the given workflow instance.
func (c *Client) GetWorkflowInstanceState(ctx context.Context, instance *workflow.Instance) (core.InstanceState, error) {
	return c.backend.GetWorkflowInstanceState(ctx, instance)
}

// WaitForWorkflowInstance waits for the given workflow instance to finish or until
// the given timeout has expired.
func (c *Client) WaitForWorkflowInstance(ctx context.Context, instance *workflow.Instance, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Tracer().Start(ctx, "WaitForWorkflowInstance", trace.WithAttributes(
		attribute.String("instance_id", instance.InstanceID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for range ticker.C {
		s, err := c.backend.GetWorkflowInstanceState(ctx, instance)
		if err != nil {
			return fmt.Errorf("getting workflow state: %w", err)
		}

		if s.Finished() {
			return nil
		}
	}

	return backend.ErrInstanceNotFinished
}

// GetWorkflowResult gets the result of the given workflow instance. It first waits
// for the workflow to finish or until the given timeout has expired.
func GetWorkflowResult[T any](ctx context.Context, c *Client, instance *workflow.Instance, timeout time.Duration) (T, error) {
	b := c.backend

	ctx, span := b.Tracer().Start(ctx, "GetWorkflowResult", trace.WithAttributes(
		attribute.String("instance_id", instance.InstanceID),
	))
	defer span.End()

	if err := c.WaitForWorkflowInstance(ctx, instance, timeout); err != nil {
		return *new(T), fmt.Errorf("workflow did not finish in time: %w", err)
	}

	s, err := b.GetWorkflowInstanceState(ctx, instance)
	if err != nil {
		return *new(T), fmt.Errorf("getting workflow state: %w", err)
	}

	if s == core.InstanceStateCanceled {
		return *new(T), ErrWorkflowCanceled
	}

	h, err := b.GetWorkflowInstanceHistory(ctx, instance, nil)
	if err != nil {
		return *new(T), fmt.Errorf("getting workflow history: %w", err)
	}

	// Iterate over history backwards
	for i := len(h) - 1; i >= 0; i-- {
		event := h[i]
		switch event.Type {
		case history.EventType_WorkflowExecutionFinished:
			a := event.Attributes.(*history.ExecutionCompletedAttributes)
			if a.Error != nil {
				return *new(T), workflowerrors.ToError(a.Error)
			}

			var r T
			if err := b.Options().Converter.From(a.Result, &r); err != nil {
				return *new(T), fmt.Errorf("converting result: %w", err)
			}

			return r, nil
		}
	}

	return *new(T), errors.New("workflow finished, but could not find result event")
}
