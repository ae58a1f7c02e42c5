package executor

import (
	"fmt"
	"reflect"

	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/payload"
	a "github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/sync"
)

// workflowRunner drives a workflow function as a coroutine. The function runs until
// it blocks on a future or channel, then control returns to the executor.
type workflowRunner struct {
	s      *sync.Scheduler
	fn     reflect.Value
	result payload.Payload
	err    error
}

func newWorkflowRunner(fn reflect.Value) *workflowRunner {
	return &workflowRunner{
		s:  sync.NewScheduler(),
		fn: fn,
	}
}

func (w *workflowRunner) Execute(ctx sync.Context, c converter.Converter, inputs []payload.Payload) error {
	w.s.NewCoroutine(ctx, func(ctx sync.Context) error {
		args, addContext, err := a.InputsToArgs(c, w.fn, inputs)
		if err != nil {
			return err
		}

		if addContext {
			args[0] = reflect.ValueOf(ctx)
		}

		r := w.fn.Call(args)

		if len(r) < 1 || len(r) > 2 {
			return fmt.Errorf("workflow must return (error) or (result, error)")
		}

		if len(r) > 1 {
			result, err := c.To(r[0].Interface())
			if err != nil {
				return fmt.Errorf("converting workflow result: %w", err)
			}

			w.result = result
		}

		errResult := r[len(r)-1]
		if !errResult.IsNil() {
			errInterface, ok := errResult.Interface().(error)
			if !ok {
				return fmt.Errorf("workflow error result does not satisfy error interface (%T): %v", errResult, errResult)
			}

			w.err = errInterface
		}

		return nil
	})

	return w.s.Execute()
}

func (w *workflowRunner) Continue() error {
	return w.s.Execute()
}

// Completed returns true once the workflow function has returned.
func (w *workflowRunner) Completed() bool {
	return w.s.RunningCoroutines() == 0
}

func (w *workflowRunner) Result() payload.Payload {
	return w.result
}

func (w *workflowRunner) Error() error {
	return w.err
}

// Close ends coroutine execution to prevent goroutine leaks.
func (w *workflowRunner) Close() {
	w.s.Exit()
}
