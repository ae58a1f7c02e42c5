package core

import "time"

type WorkflowInstance struct {
	// InstanceID is the external identifier of the workflow instance. It is chosen by the
	// caller and unique per logical workflow, for example the identifier of a blog post.
	InstanceID string `json:"instance_id,omitempty"`

	// ExecutionID identifies the current execution of the workflow instance.
	ExecutionID string `json:"execution_id,omitempty"`
}

func NewWorkflowInstance(instanceID, executionID string) *WorkflowInstance {
	return &WorkflowInstance{
		InstanceID:  instanceID,
		ExecutionID: executionID,
	}
}

type InstanceState int

const (
	InstanceStateRunning InstanceState = iota

	// InstanceStateSuspended is the state of an instance that is waiting for an external
	// signal or its deadline, with no workflow task in flight.
	InstanceStateSuspended

	InstanceStateCompleted
	InstanceStateFailed
	InstanceStateCanceled
)

func (s InstanceState) String() string {
	switch s {
	case InstanceStateRunning:
		return "Running"
	case InstanceStateSuspended:
		return "Suspended"
	case InstanceStateCompleted:
		return "Completed"
	case InstanceStateFailed:
		return "Failed"
	case InstanceStateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Finished returns true if the instance reached a terminal state.
func (s InstanceState) Finished() bool {
	return s == InstanceStateCompleted || s == InstanceStateFailed || s == InstanceStateCanceled
}

// OpenWait describes the single outstanding wait of a suspended workflow instance: the
// signal it is waiting for and the absolute deadline after which the wait times out.
type OpenWait struct {
	// Signal is the name of the signal the instance is waiting for.
	Signal string `json:"signal"`

	// Deadline is the absolute time at which the wait times out. Nil if the wait has
	// no deadline.
	Deadline *time.Time `json:"deadline,omitempty"`
}
