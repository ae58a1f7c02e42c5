package history

import (
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/internal/workflowerrors"
)

type ExecutionCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`

	Error *workflowerrors.Error `json:"error,omitempty"`
}

type ExecutionCanceledAttributes struct {
}

type WorkflowTaskStartedAttributes struct {
}
