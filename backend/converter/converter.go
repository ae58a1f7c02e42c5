package converter

import "github.com/modflow/modflow/backend/payload"

// Converter serializes and deserializes workflow inputs and results.
type Converter interface {
	To(v any) (payload.Payload, error)
	From(p payload.Payload, vptr any) error
}

var DefaultConverter Converter = &jsonConverter{}
