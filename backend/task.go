package backend

import (
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/core"
)

// WorkflowTask represents work for one workflow execution slice: the new events that
// arrived for an instance since its last slice.
type WorkflowTask struct {
	// ID is an identifier for this task, set by the backend.
	ID string

	// WorkflowInstance is the workflow instance this task is for.
	WorkflowInstance *core.WorkflowInstance

	State core.InstanceState

	// LastSequenceID is the sequence ID of the newest event in the instance history.
	LastSequenceID int64

	// NewEvents are events that became visible since the last task execution.
	NewEvents []*history.Event

	// Backend specific data, only the producer of the task should rely on this.
	CustomData any
}

// Task represents one task execution.
type Task struct {
	ID string

	WorkflowInstance *core.WorkflowInstance

	// Event is the TaskScheduled event that caused this execution.
	Event *history.Event
}
