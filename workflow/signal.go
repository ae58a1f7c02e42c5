package workflow

import (
	"github.com/modflow/modflow/internal/workflowstate"
)

// NewSignalChannel returns a channel that receives signals sent to this workflow
// instance under the given name. Signals delivered before the channel was created
// are buffered and received in order.
func NewSignalChannel[T any](ctx Context, name string) Channel[T] {
	wfState := workflowstate.WorkflowState(ctx)
	return workflowstate.GetSignalChannel[T](ctx, wfState.Converter(), wfState, name)
}
