package sync

// Future is a value that becomes available once an asynchronous operation - a task,
// a timer - resolves.
type Future[T any] interface {
	// Get returns the value if set, blocks the coroutine otherwise
	Get(ctx Context) (T, error)
}

// SettableFuture is the engine-side surface of a future.
type SettableFuture[T any] interface {
	Future[T]

	// Set stores the value and unblocks any waiting consumers
	Set(v T, err error)

	// Ready returns true if the future has been resolved
	Ready() bool
}

func NewFuture[T any]() SettableFuture[T] {
	return &futureImpl[T]{}
}

type futureImpl[T any] struct {
	hasValue bool
	v        T
	err      error
}

func (f *futureImpl[T]) Set(v T, err error) {
	if f.hasValue {
		panic("future already set")
	}

	f.v = v
	f.err = err
	f.hasValue = true
}

func (f *futureImpl[T]) Get(ctx Context) (T, error) {
	for {
		cr := getCoState(ctx)

		if f.hasValue {
			cr.MadeProgress()
			return f.v, f.err
		}

		cr.Yield()
	}
}

func (f *futureImpl[T]) Ready() bool {
	return f.hasValue
}
