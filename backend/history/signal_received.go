package history

import "github.com/modflow/modflow/backend/payload"

type SignalReceivedAttributes struct {
	Name string `json:"name,omitempty"`

	Arg payload.Payload `json:"arg,omitempty"`
}
