package workflow

import (
	"github.com/modflow/modflow/internal/sync"
	"github.com/modflow/modflow/internal/workflowerrors"
)

type (
	Error              = workflowerrors.Error
	PanicError         = workflowerrors.PanicError
	TaskExecutionError = workflowerrors.TaskExecutionError
)

// Canceled is returned from blocked operations once the workflow has been canceled.
var Canceled = sync.Canceled

// NewError wraps the given error into a workflow error which can be retried.
func NewError(err error) error {
	return workflowerrors.FromError(err)
}

// NewPermanentError wraps the given error into a workflow error which will not be
// retried.
func NewPermanentError(err error) error {
	return workflowerrors.NewPermanentError(err)
}

// CanRetry returns true if the given error is retryable.
func CanRetry(err error) bool {
	return workflowerrors.CanRetry(err)
}
