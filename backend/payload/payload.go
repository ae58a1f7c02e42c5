package payload

// Payload is a serialized argument or result. The engine treats payloads as opaque;
// only the configured converter interprets them.
type Payload []byte
