package sync

import (
	"errors"
	"reflect"
)

// Context carries cancellation and values across workflow API boundaries. It mirrors
// context.Context, but its Done channel is a deterministic workflow channel so that
// cancellation is part of replayable workflow execution instead of goroutine timing.
type Context interface {
	// Done returns a channel that's closed when the workflow execution governed by
	// this context is canceled. May return nil if this context can never be canceled.
	Done() Channel[struct{}]

	// Err returns nil while the context is live and Canceled after cancellation.
	Err() error

	// Value returns the value associated with this context for key, or nil.
	Value(key any) any
}

// Canceled is the error returned by Context.Err when the context is canceled.
//
//lint:ignore ST1012 for compat with "context" package
var Canceled = errors.New("context canceled")

// An emptyCtx is never canceled and has no values.
type emptyCtx int

func (*emptyCtx) Done() Channel[struct{}] {
	return nil
}

func (*emptyCtx) Err() error {
	return nil
}

func (*emptyCtx) Value(key any) any {
	return nil
}

var background = new(emptyCtx)

// Background returns a non-nil, empty Context. It is never canceled and has no values.
func Background() Context {
	return background
}

// A CancelFunc tells an operation to abandon its work. After the first call,
// subsequent calls to a CancelFunc do nothing.
type CancelFunc func()

// WithCancel returns a copy of parent with a new Done channel. The returned context's
// Done channel is closed when the returned cancel function is called or when the
// parent context's Done channel is closed, whichever happens first.
func WithCancel(parent Context) (ctx Context, cancel CancelFunc) {
	if parent == nil {
		panic("cannot create context from nil parent")
	}

	c := &cancelCtx{
		Context: parent,
		done:    NewChannel[struct{}](),
	}

	c.propagateCancel(parent)

	return c, func() { c.cancel(true) }
}

// &cancelCtxKey is the key for which a cancelCtx returns itself.
var cancelCtxKey int

type canceler interface {
	cancel(removeFromParent bool)
}

// A cancelCtx can be canceled. When canceled, it also cancels any children.
type cancelCtx struct {
	Context

	done     Channel[struct{}]
	children map[canceler]struct{}
	err      error
}

func (c *cancelCtx) propagateCancel(parent Context) {
	done := parent.Done()
	if done == nil {
		return // parent is never canceled
	}

	p, ok := parent.Value(&cancelCtxKey).(*cancelCtx)
	if !ok {
		return
	}

	if p.err != nil {
		// parent has already been canceled
		c.cancel(false)
		return
	}

	if p.children == nil {
		p.children = make(map[canceler]struct{})
	}
	p.children[c] = struct{}{}
}

func (c *cancelCtx) Value(key any) any {
	if key == &cancelCtxKey {
		return c
	}
	return c.Context.Value(key)
}

func (c *cancelCtx) Done() Channel[struct{}] {
	return c.done
}

func (c *cancelCtx) Err() error {
	return c.err
}

func (c *cancelCtx) cancel(removeFromParent bool) {
	if c.err != nil {
		return // already canceled
	}

	c.err = Canceled
	c.done.Close()

	for child := range c.children {
		child.cancel(false)
	}
	c.children = nil

	if removeFromParent {
		if p, ok := c.Context.Value(&cancelCtxKey).(*cancelCtx); ok {
			delete(p.children, c)
		}
	}
}

// WithValue returns a copy of parent in which the value associated with key is val.
func WithValue(parent Context, key, val any) Context {
	if parent == nil {
		panic("cannot create context from nil parent")
	}
	if key == nil {
		panic("nil key")
	}
	if !reflect.TypeOf(key).Comparable() {
		panic("key is not comparable")
	}
	return &valueCtx{parent, key, val}
}

type valueCtx struct {
	Context
	key, val any
}

func (c *valueCtx) Value(key any) any {
	if c.key == key {
		return c.val
	}
	return c.Context.Value(key)
}
