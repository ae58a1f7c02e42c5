package converter

import (
	"encoding/json"

	"github.com/modflow/modflow/backend/payload"
)

type jsonConverter struct{}

func (jc *jsonConverter) To(v any) (payload.Payload, error) {
	return json.Marshal(v)
}

func (jc *jsonConverter) From(p payload.Payload, vptr any) error {
	if p == nil {
		return nil
	}

	return json.Unmarshal(p, vptr)
}
