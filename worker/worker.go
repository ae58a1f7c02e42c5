// Package worker runs workflow and task workers against a backend.
package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/history"
	internal "github.com/modflow/modflow/internal/worker"
	"github.com/modflow/modflow/registry"
)

type Options struct {
	// WorkflowPollers is the number of pollers for workflow tasks. Defaults to 2.
	WorkflowPollers int

	// MaxParallelWorkflowTasks is the maximum number of workflow tasks processed in
	// parallel. Defaults to 0, no limit.
	MaxParallelWorkflowTasks int

	// TaskPollers is the number of pollers for tasks. Defaults to 2.
	TaskPollers int

	// MaxParallelTasks is the maximum number of tasks processed in parallel.
	// Defaults to 0, no limit.
	MaxParallelTasks int

	// TaskHeartbeatInterval is how often a task lock is extended while the task is
	// still running. Defaults to half the backend's task lock timeout.
	TaskHeartbeatInterval time.Duration

	// PollingInterval is the delay between polls when the last poll came up empty.
	PollingInterval time.Duration
}

var DefaultOptions = Options{
	WorkflowPollers:          2,
	MaxParallelWorkflowTasks: 0,
	TaskPollers:              2,
	MaxParallelTasks:         0,
	PollingInterval:          200 * time.Millisecond,
}

// Worker runs workflows and tasks registered with it.
type Worker struct {
	backend backend.Backend

	registry *registry.Registry

	workflowTaskWorker *internal.WorkflowTaskWorker
	workflowWorker     *internal.Worker[backend.WorkflowTask, internal.WorkflowTaskResult]
	taskWorker         *internal.Worker[backend.Task, history.Event]
}

func New(b backend.Backend, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	if options.TaskHeartbeatInterval == 0 {
		options.TaskHeartbeatInterval = b.Options().TaskLockTimeout / 2
	}

	r := registry.New()
	c := clock.New()

	wtw := internal.NewWorkflowTaskWorker(b, r, c)

	workflowWorker := internal.NewWorker[backend.WorkflowTask, internal.WorkflowTaskResult](b, wtw, &internal.Options{
		Pollers:          options.WorkflowPollers,
		MaxParallelTasks: options.MaxParallelWorkflowTasks,
		PollingInterval:  options.PollingInterval,
	})

	taskWorker := internal.NewWorker[backend.Task, history.Event](b, internal.NewTaskRunner(b, r, c), &internal.Options{
		Pollers:           options.TaskPollers,
		MaxParallelTasks:  options.MaxParallelTasks,
		HeartbeatInterval: options.TaskHeartbeatInterval,
		PollingInterval:   options.PollingInterval,
	})

	return &Worker{
		backend: b,

		registry: r,

		workflowTaskWorker: wtw,
		workflowWorker:     workflowWorker,
		taskWorker:         taskWorker,
	}
}

// RegisterWorkflow registers a workflow with this worker.
func (w *Worker) RegisterWorkflow(wf any, opts ...registry.RegisterOption) error {
	return w.registry.RegisterWorkflow(wf, opts...)
}

// RegisterTask registers a task with this worker.
func (w *Worker) RegisterTask(t any, opts ...registry.RegisterOption) error {
	return w.registry.RegisterTask(t, opts...)
}

// Start starts polling for workflow tasks and tasks. It returns immediately; cancel
// ctx to initiate a shutdown.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.workflowWorker.Start(ctx); err != nil {
		return err
	}

	return w.taskWorker.Start(ctx)
}

// WaitForCompletion blocks until in-flight work has finished after the context
// passed to Start was canceled.
func (w *Worker) WaitForCompletion() error {
	if err := w.workflowWorker.WaitForCompletion(); err != nil {
		return err
	}

	if err := w.taskWorker.WaitForCompletion(); err != nil {
		return err
	}

	w.workflowTaskWorker.Stop()

	return nil
}
