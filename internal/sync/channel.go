package sync

// Channel is a deterministic, workflow-safe channel. All operations happen on the
// single coroutine executing a workflow instance, so no locking is required.
type Channel[T any] interface {
	// Send delivers a value, blocking the coroutine until a receiver is available or
	// buffer capacity frees up.
	Send(ctx Context, v T)

	// SendNonblocking delivers a value if a receiver or buffer capacity is available.
	SendNonblocking(v T) (ok bool)

	// Receive returns the next value, blocking the coroutine until one is available.
	// Returns more == false once the channel is closed and drained.
	Receive(ctx Context) (v T, more bool)

	// ReceiveNonblocking returns the next value if one is available (or the zero value
	// once the channel is closed).
	ReceiveNonblocking() (v T, ok bool)

	Close()
}

// ChannelInternal is the engine-side surface of a channel.
type ChannelInternal[T any] interface {
	Channel[T]

	// CanReceive returns true if a receive would not block.
	CanReceive() bool

	// Closed returns true once the channel has been closed.
	Closed() bool

	// AddReceiveCallback registers a one-shot callback invoked with the next value
	// sent to the channel, or with the zero value when the channel is closed.
	AddReceiveCallback(cb func(v T, ok bool))
}

func NewChannel[T any]() Channel[T] {
	return &channel[T]{}
}

func NewBufferedChannel[T any](size int) Channel[T] {
	return &channel[T]{
		c:    make([]T, 0, size),
		size: size,
	}
}

type channel[T any] struct {
	c         []T
	receivers []func(T, bool)
	senders   []func() T
	closed    bool
	size      int
}

var _ ChannelInternal[int] = (*channel[int])(nil)

func (c *channel[T]) Close() {
	c.closed = true

	for len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]

		var zero T
		r(zero, false)
	}
}

func (c *channel[T]) Send(ctx Context, v T) {
	addedSender := false
	sentValue := false

	for {
		if c.trySend(v) {
			return
		}

		if !addedSender {
			addedSender = true

			cb := func() T {
				sentValue = true
				return v
			}

			c.senders = append(c.senders, cb)
		}

		cr := getCoState(ctx)
		cr.Yield()

		if sentValue {
			return
		}
	}
}

func (c *channel[T]) SendNonblocking(v T) bool {
	return c.trySend(v)
}

func (c *channel[T]) Receive(ctx Context) (T, bool) {
	cr := getCoState(ctx)

	addedListener := false
	receivedValue := false
	var received T
	var more bool

	for {
		// Try to receive from buffered channel or blocked sender
		if v, ok := c.tryReceive(); ok {
			cr.MadeProgress()
			return v, !c.closed
		}

		// Register handler to receive value once
		if !addedListener {
			cb := func(v T, ok bool) {
				receivedValue = true
				received = v
				more = ok
			}

			c.receivers = append(c.receivers, cb)
			addedListener = true
		}

		cr.Yield()

		// If we received a value via the callback, return
		if receivedValue {
			cr.MadeProgress()
			return received, more
		}
	}
}

func (c *channel[T]) ReceiveNonblocking() (T, bool) {
	return c.tryReceive()
}

func (c *channel[T]) Closed() bool {
	return c.closed
}

func (c *channel[T]) CanReceive() bool {
	return len(c.c) > 0 || len(c.senders) > 0 || c.closed
}

func (c *channel[T]) AddReceiveCallback(cb func(v T, ok bool)) {
	if c.closed {
		var zero T
		cb(zero, false)
		return
	}

	c.receivers = append(c.receivers, cb)
}

func (c *channel[T]) trySend(v T) bool {
	// If closed, we can't send, exit.
	if c.closed {
		panic("channel closed")
	}

	// Are there any existing blocked receivers? If so, unblock the first one with
	// the value.
	if len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]
		r(v, true)
		return true
	}

	// No waiting receiver, if we have capacity try to add the value to the buffer
	if len(c.c) < c.size {
		c.c = append(c.c, v)
		return true
	}

	// No receiver waiting and no capacity, we can't send.
	return false
}

func (c *channel[T]) tryReceive() (T, bool) {
	// If channel is buffered, return a value if available
	if len(c.c) > 0 {
		v := c.c[0]
		c.c = c.c[1:]
		return v, true
	}

	// If the channel has been closed and the buffer is drained, return the zero value
	if c.closed {
		var zero T
		return zero, true
	}

	if len(c.senders) > 0 {
		s := c.senders[0]
		c.senders[0] = nil
		c.senders = c.senders[1:]

		return s(), true
	}

	var zero T
	return zero, false
}
