// Package tester runs a single workflow to completion against an in-memory backend
// with a simulated clock. Timers fire by advancing the clock, so a workflow waiting
// two days for a signal finishes in milliseconds of test time.
package tester

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/memory"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/fn"
	internal "github.com/modflow/modflow/internal/worker"
	"github.com/modflow/modflow/internal/workflowerrors"
	"github.com/modflow/modflow/registry"
	"github.com/modflow/modflow/workflow"
)

// timerSource is implemented by the memory backend. It exposes when the next hidden
// pending event, usually a timer, becomes visible.
type timerSource interface {
	NextVisibleAt() *time.Time
}

// testTimer is a tester-side callback scheduled in workflow time.
type testTimer struct {
	At       time.Time
	Callback func()
}

type WorkflowTester[TResult any] interface {
	// Now returns the current time of the simulated clock.
	Now() time.Time

	// Registry returns the registry used by the tester.
	Registry() *registry.Registry

	// OnTask registers a mock for the given task. Once a task is mocked, its real
	// implementation is never called.
	OnTask(task workflow.Task, args ...any) *mock.Call

	// OnTaskByName registers a mock for the task registered under the given name.
	OnTaskByName(name string, task workflow.Task, args ...any) *mock.Call

	// SignalWorkflow delivers a signal to the workflow under test. The signal is
	// delivered once the workflow is idle, which for a workflow waiting on a signal
	// means while that wait is open.
	SignalWorkflow(name string, value any)

	// ScheduleCallback runs the given callback after the given delay in workflow
	// time.
	ScheduleCallback(delay time.Duration, callback func())

	// Execute runs the workflow under test with the given arguments until it
	// finishes.
	Execute(ctx context.Context, args ...any)

	// WorkflowFinished returns true once the workflow under test has finished.
	WorkflowFinished() bool

	// WorkflowResult returns the result of the workflow under test.
	WorkflowResult() (TResult, error)

	// AssertExpectations asserts all expectations set up for mocked tasks.
	AssertExpectations(t *testing.T)
}

var _ WorkflowTester[any] = (*workflowTester[any])(nil)

type workflowTester[TResult any] struct {
	options *options

	// workflow under test
	wf  workflow.Workflow
	wfi *core.WorkflowInstance

	registry *registry.Registry

	backend   backend.Backend
	clock     *clock.Mock
	wallClock clock.Clock

	workflowWorker *internal.WorkflowTaskWorker
	taskRunner     *internal.TaskRunner

	mt          *mock.Mock
	mockedTasks map[string]bool

	timers    []*testTimer
	callbacks chan func()

	workflowFinished bool
	workflowResult   payload.Payload
	workflowErr      *workflowerrors.Error

	logger    *slog.Logger
	converter converter.Converter
}

func NewWorkflowTester[TResult any](wf workflow.Workflow, opts ...WorkflowTesterOption) WorkflowTester[TResult] {
	if err := args.ReturnTypeMatch[TResult](wf); err != nil {
		panic(fmt.Sprintf("workflow return type does not match: %s", err))
	}

	options := &options{
		TestTimeout: time.Second * 10,
		Logger:      slog.Default(),
		Converter:   converter.DefaultConverter,
	}

	for _, o := range opts {
		o(options)
	}

	// Start with the current wall-clock time
	c := clock.NewMock()
	c.Set(time.Now())

	r := registry.New()

	b := memory.NewBackend(
		memory.WithClock(c),
		memory.WithBackendOptions(
			backend.WithLogger(options.Logger),
			backend.WithConverter(options.Converter),
		),
	)

	wt := &workflowTester[TResult]{
		options: options,

		wf:  wf,
		wfi: core.NewWorkflowInstance(uuid.NewString(), uuid.NewString()),

		registry: r,

		backend:   b,
		clock:     c,
		wallClock: clock.New(),

		workflowWorker: internal.NewWorkflowTaskWorker(b, r, c),
		taskRunner:     internal.NewTaskRunner(b, r, c),

		mt:          &mock.Mock{},
		mockedTasks: make(map[string]bool),

		callbacks: make(chan func(), 1024),

		logger:    options.Logger.With("source", "tester"),
		converter: options.Converter,
	}

	// Always register the workflow under test
	if err := r.RegisterWorkflow(wf); err != nil {
		panic(fmt.Sprintf("could not register workflow under test: %v", err))
	}

	return wt
}

func (wt *workflowTester[TResult]) Now() time.Time {
	return wt.clock.Now()
}

func (wt *workflowTester[TResult]) Registry() *registry.Registry {
	return wt.registry
}

func (wt *workflowTester[TResult]) OnTask(task workflow.Task, args ...any) *mock.Call {
	// Register the task so its arguments can be decoded later
	wt.registry.RegisterTask(task)

	name := fn.Name(task)
	wt.mockedTasks[name] = true
	return wt.mt.On(name, args...)
}

func (wt *workflowTester[TResult]) OnTaskByName(name string, task workflow.Task, args ...any) *mock.Call {
	wt.registry.RegisterTask(task, registry.WithName(name))

	wt.mockedTasks[name] = true
	return wt.mt.On(name, args...)
}

func (wt *workflowTester[TResult]) SignalWorkflow(name string, value any) {
	arg, err := wt.converter.To(value)
	if err != nil {
		panic("could not convert signal value: " + err.Error())
	}

	wt.callbacks <- func() {
		event := history.NewPendingEvent(
			wt.clock.Now(),
			history.EventType_SignalReceived,
			&history.SignalReceivedAttributes{
				Name: name,
				Arg:  arg,
			},
		)

		if err := wt.backend.SignalWorkflow(context.Background(), wt.wfi.InstanceID, event); err != nil {
			panic(fmt.Sprintf("could not signal workflow: %v", err))
		}
	}
}

func (wt *workflowTester[TResult]) ScheduleCallback(delay time.Duration, callback func()) {
	wt.timers = append(wt.timers, &testTimer{
		At:       wt.clock.Now().Add(delay),
		Callback: callback,
	})
}

func (wt *workflowTester[TResult]) Execute(ctx context.Context, a ...any) {
	inputs, err := args.ArgsToInputs(wt.converter, a...)
	if err != nil {
		panic("could not convert workflow inputs: " + err.Error())
	}

	startedEvent := history.NewPendingEvent(
		wt.clock.Now(),
		history.EventType_WorkflowExecutionStarted,
		&history.ExecutionStartedAttributes{
			Name:   fn.Name(wt.wf),
			Inputs: inputs,
		})

	if err := wt.backend.CreateWorkflowInstance(ctx, wt.wfi, startedEvent); err != nil {
		panic("could not create workflow instance: " + err.Error())
	}

	deadline := wt.wallClock.Now().Add(wt.options.TestTimeout)

	for !wt.workflowFinished {
		if wt.wallClock.Now().After(deadline) {
			panic("test timeout reached, workflow blocked?")
		}

		if wt.executeWorkflowTask(ctx) {
			continue
		}

		if wt.executeTask(ctx) {
			continue
		}

		// No work is ready. Deliver a queued callback, usually a signal, before
		// advancing time.
		select {
		case callback := <-wt.callbacks:
			callback()
			continue
		default:
		}

		if !wt.advanceToNextTimer() {
			panic("no pending events, tasks, or timers, workflow blocked?")
		}
	}

	wt.workflowWorker.Stop()
}

func (wt *workflowTester[TResult]) WorkflowFinished() bool {
	return wt.workflowFinished
}

func (wt *workflowTester[TResult]) WorkflowResult() (TResult, error) {
	var r TResult

	if !wt.workflowFinished {
		panic("workflow is not finished yet")
	}

	if wt.workflowResult != nil {
		if err := wt.converter.From(wt.workflowResult, &r); err != nil {
			panic("could not convert workflow result: " + err.Error())
		}
	}

	return r, workflowerrors.ToError(wt.workflowErr)
}

func (wt *workflowTester[TResult]) AssertExpectations(t *testing.T) {
	wt.mt.AssertExpectations(t)
}

func (wt *workflowTester[TResult]) executeWorkflowTask(ctx context.Context) bool {
	t, err := wt.backend.GetWorkflowTask(ctx)
	if err != nil {
		panic("could not get workflow task: " + err.Error())
	}

	if t == nil {
		return false
	}

	result, err := wt.workflowWorker.Execute(ctx, t)
	if err != nil {
		panic("error while executing workflow: " + err.Error())
	}

	if err := wt.workflowWorker.Complete(ctx, result, t); err != nil {
		panic("could not complete workflow task: " + err.Error())
	}

	s, err := wt.backend.GetWorkflowInstanceState(ctx, wt.wfi)
	if err != nil {
		panic("could not get workflow state: " + err.Error())
	}

	if s.Finished() {
		wt.workflowFinished = true
		wt.readWorkflowResult(ctx)
	}

	return true
}

func (wt *workflowTester[TResult]) executeTask(ctx context.Context) bool {
	t, err := wt.backend.GetTask(ctx)
	if err != nil {
		panic("could not get task: " + err.Error())
	}

	if t == nil {
		return false
	}

	attrs := t.Event.Attributes.(*history.TaskScheduledAttributes)

	var event *history.Event
	if wt.mockedTasks[attrs.Name] {
		event = wt.executeMockedTask(ctx, t, attrs)
	} else {
		event, err = wt.taskRunner.Execute(ctx, t)
		if err != nil {
			panic("error while executing task: " + err.Error())
		}
	}

	if err := wt.backend.CompleteTask(ctx, t, event); err != nil {
		panic("could not complete task: " + err.Error())
	}

	return true
}

func (wt *workflowTester[TResult]) executeMockedTask(
	ctx context.Context, t *backend.Task, attrs *history.TaskScheduledAttributes,
) *history.Event {
	taskFn, err := wt.registry.GetTask(attrs.Name)
	if err != nil {
		panic("could not find task " + attrs.Name + " in registry")
	}

	argValues, addContext, err := args.InputsToArgs(wt.converter, reflect.ValueOf(taskFn), attrs.Inputs)
	if err != nil {
		panic("could not convert task inputs: " + err.Error())
	}

	callArgs := make([]any, len(argValues))
	for i, arg := range argValues {
		if i == 0 && addContext {
			callArgs[i] = ctx
			continue
		}

		callArgs[i] = arg.Interface()
	}

	results := wt.mt.MethodCalled(attrs.Name, callArgs...)

	var taskErr error
	var taskResult payload.Payload

	switch len(results) {
	case 1:
		taskErr = results.Error(0)
	case 2:
		taskResult, err = wt.converter.To(results.Get(0))
		if err != nil {
			panic("could not convert result for task " + attrs.Name + ": " + err.Error())
		}

		taskErr = results.Error(1)
	default:
		panic(fmt.Sprintf(
			"unexpected number of results returned for mocked task %v, expected 1 or 2, got %v",
			attrs.Name, len(results)))
	}

	if taskErr != nil {
		return history.NewPendingEvent(
			wt.clock.Now(),
			history.EventType_TaskFailed,
			&history.TaskFailedAttributes{
				Error:    workflowerrors.FromError(taskErr),
				Attempts: 1,
			},
			history.ScheduleEventID(t.Event.ScheduleEventID),
		)
	}

	return history.NewPendingEvent(
		wt.clock.Now(),
		history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{
			Result: taskResult,
		},
		history.ScheduleEventID(t.Event.ScheduleEventID),
	)
}

// advanceToNextTimer moves the simulated clock forward to the earliest pending
// timer, either a scheduled callback or a durable timer in the backend. Returns
// false if there is nothing to advance to.
func (wt *workflowTester[TResult]) advanceToNextTimer() bool {
	sort.SliceStable(wt.timers, func(i, j int) bool {
		return wt.timers[i].At.Before(wt.timers[j].At)
	})

	var next *time.Time
	if len(wt.timers) > 0 {
		next = &wt.timers[0].At
	}

	if backendNext := wt.backend.(timerSource).NextVisibleAt(); backendNext != nil {
		if next == nil || backendNext.Before(*next) {
			next = backendNext
		}
	}

	if next == nil {
		return false
	}

	wt.logger.Debug("advancing workflow clock", "to", *next)
	wt.clock.Set(*next)

	// Fire callbacks that are due at the new time
	for len(wt.timers) > 0 && !wt.timers[0].At.After(wt.clock.Now()) {
		t := wt.timers[0]
		wt.timers = wt.timers[1:]
		t.Callback()
	}

	return true
}

func (wt *workflowTester[TResult]) readWorkflowResult(ctx context.Context) {
	h, err := wt.backend.GetWorkflowInstanceHistory(ctx, wt.wfi, nil)
	if err != nil {
		panic("could not get workflow history: " + err.Error())
	}

	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Type != history.EventType_WorkflowExecutionFinished {
			continue
		}

		a := h[i].Attributes.(*history.ExecutionCompletedAttributes)
		wt.workflowResult = a.Result
		wt.workflowErr = a.Error
		return
	}
}
