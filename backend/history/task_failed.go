package history

import "github.com/modflow/modflow/internal/workflowerrors"

type TaskFailedAttributes struct {
	Error *workflowerrors.Error `json:"error,omitempty"`

	// Attempts is the number of executions performed before the task was given up.
	Attempts int `json:"attempts,omitempty"`
}
