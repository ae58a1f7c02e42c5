package workflowerrors

import "fmt"

// TaskExecutionError is surfaced to workflow code when a task failed after exhausting
// its retry attempts.
type TaskExecutionError struct {
	TaskName string
	Attempts int
	Cause    error
}

var _ error = (*TaskExecutionError)(nil)

func (te *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", te.TaskName, te.Attempts, te.Cause)
}

func (te *TaskExecutionError) Unwrap() error {
	return te.Cause
}
