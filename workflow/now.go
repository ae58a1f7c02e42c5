package workflow

import (
	"time"

	"github.com/modflow/modflow/internal/workflowstate"
)

// Now returns the current workflow time. It is deterministic under replay: the time
// is taken from the recorded history, not from the wall clock.
func Now(ctx Context) time.Time {
	wfState := workflowstate.WorkflowState(ctx)
	return wfState.Time()
}
