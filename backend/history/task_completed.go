package history

import "github.com/modflow/modflow/backend/payload"

type TaskCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}
