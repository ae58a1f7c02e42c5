package history

import (
	"time"

	"github.com/modflow/modflow/backend/payload"
)

// RetryPolicy controls how the task worker retries transient failures of a task
// before giving up and reporting a failure to the workflow.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions, including the first one.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// FirstInterval is the wait before the first retry.
	FirstInterval time.Duration `json:"first_interval,omitempty"`

	// BackoffCoefficient multiplies the wait after every attempt.
	BackoffCoefficient float64 `json:"backoff_coefficient,omitempty"`

	// MaxInterval caps the wait between attempts. Zero means no cap.
	MaxInterval time.Duration `json:"max_interval,omitempty"`
}

type TaskScheduledAttributes struct {
	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`

	Retry *RetryPolicy `json:"retry,omitempty"`
}
