package sync

// SelectCase is a single case in a Select statement.
type SelectCase interface {
	Ready() bool
	Handle(Context)
}

// Select blocks the coroutine until one of the given cases is ready, then executes its
// handler. Cases are checked in the order given; when several are ready at the same
// time, the first one wins. That ordering is deterministic, so replay reproduces the
// same choice.
func Select(ctx Context, cases ...SelectCase) {
	cs := getCoState(ctx)

	for {
		for _, c := range cases {
			if c.Ready() {
				cs.MadeProgress()
				c.Handle(ctx)
				return
			}
		}

		cs.Yield()
	}
}

// Await returns a case that fires once the given future is resolved.
func Await[T any](f Future[T], handler func(ctx Context, f Future[T])) SelectCase {
	return &futureCase[T]{f: f, fn: handler}
}

type futureCase[T any] struct {
	f  Future[T]
	fn func(Context, Future[T])
}

func (fc *futureCase[T]) Ready() bool {
	return fc.f.(SettableFuture[T]).Ready()
}

func (fc *futureCase[T]) Handle(ctx Context) {
	fc.fn(ctx, fc.f)
}

// Receive returns a case that fires once the given channel can receive a value. The
// handler receives the value and an ok flag which is false if the channel was closed.
func Receive[T any](c Channel[T], handler func(ctx Context, v T, ok bool)) SelectCase {
	return &channelCase[T]{c: c.(ChannelInternal[T]), fn: handler}
}

type channelCase[T any] struct {
	c  ChannelInternal[T]
	fn func(Context, T, bool)
}

func (cc *channelCase[T]) Ready() bool {
	return cc.c.CanReceive()
}

func (cc *channelCase[T]) Handle(ctx Context) {
	v, _ := cc.c.ReceiveNonblocking()
	cc.fn(ctx, v, !cc.c.Closed())
}

// Default returns a case that fires if no other case is ready. It must be the last case.
func Default(handler func(Context)) SelectCase {
	return &defaultCase{fn: handler}
}

type defaultCase struct {
	fn func(Context)
}

func (dc *defaultCase) Ready() bool {
	return true
}

func (dc *defaultCase) Handle(ctx Context) {
	dc.fn(ctx)
}
