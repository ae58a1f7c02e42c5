package workflow

import "github.com/modflow/modflow/internal/sync"

type SelectCase = sync.SelectCase

// Select is the workflow-safe equivalent of the select statement. Cases are checked
// in order, so when several are ready at the same time the first one wins.
func Select(ctx Context, cases ...SelectCase) {
	sync.Select(ctx, cases...)
}

// Await calls the provided handler when the given future is ready.
func Await[T any](f Future[T], handler func(Context, Future[T])) SelectCase {
	return sync.Await(f, func(ctx sync.Context, f sync.Future[T]) {
		handler(ctx, f)
	})
}

// Receive calls the provided handler if the given channel can receive a value. The
// handler receives the value and an ok flag which is false if the channel was closed.
func Receive[T any](c Channel[T], handler func(ctx Context, v T, ok bool)) SelectCase {
	return sync.Receive(c, handler)
}

// Default calls the provided handler if none of the other cases are ready.
func Default(handler func(Context)) SelectCase {
	return sync.Default(handler)
}
