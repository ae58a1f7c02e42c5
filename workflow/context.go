package workflow

import "github.com/modflow/modflow/internal/sync"

// Context is the replay-safe context passed to workflow functions.
type Context = sync.Context

type CancelFunc = sync.CancelFunc

// WithCancel returns a copy of parent with a new Done channel. The returned
// context's Done channel is closed when the returned cancel function is called
// or when the parent context's Done channel is closed, whichever happens first.
func WithCancel(parent Context) (ctx Context, cancel CancelFunc) {
	return sync.WithCancel(parent)
}

// WithValue returns a copy of parent in which the value associated with key is val.
func WithValue(parent Context, key, val any) Context {
	return sync.WithValue(parent, key, val)
}
