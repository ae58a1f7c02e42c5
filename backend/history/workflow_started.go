package history

import "github.com/modflow/modflow/backend/payload"

type ExecutionStartedAttributes struct {
	// Name of the workflow definition governing this instance.
	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`
}
