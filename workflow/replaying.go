package workflow

import (
	"github.com/modflow/modflow/internal/workflowstate"
)

// Replaying returns true while the workflow is replaying recorded history.
func Replaying(ctx Context) bool {
	wfState := workflowstate.WorkflowState(ctx)
	return wfState.Replaying()
}
