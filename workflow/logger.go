package workflow

import (
	"log/slog"

	"github.com/modflow/modflow/internal/workflowstate"
)

// Logger returns a logger scoped to the current workflow instance. Log records
// produced while the workflow is replaying are suppressed.
func Logger(ctx Context) *slog.Logger {
	wfState := workflowstate.WorkflowState(ctx)
	return wfState.Logger()
}
