package sync

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/modflow/modflow/internal/workflowerrors"
)

const DeadlockDetection = 40 * time.Second

var ErrCoroutineAlreadyFinished = errors.New("coroutine already finished")

type Coroutine interface {
	// Execute continues execution of a blocked coroutine and waits until
	// it is finished or blocked again
	Execute()

	// Yield yields execution and stops coroutine execution
	Yield()

	// Exit prevents a _blocked_ Coroutine from continuing
	Exit()

	Blocked() bool
	Finished() bool
	Progress() bool

	Error() error
}

type key int

var coroutinesCtxKey key

type coState struct {
	blocking   chan bool    // coroutine is going to be blocked
	unblock    chan bool    // channel to unblock a blocked coroutine
	blocked    atomic.Bool  // coroutine is currently blocked
	finished   atomic.Bool  // coroutine finished executing
	shouldExit atomic.Bool  // coroutine should exit
	progress   atomic.Bool  // did the coroutine make progress since the last yield?

	err error

	deadlockDetection time.Duration
}

func NewCoroutine(ctx Context, fn func(ctx Context) error) Coroutine {
	s := newState()
	ctx = withCoState(ctx, s)

	go func() {
		defer s.finish() // Ensure we always mark the coroutine as finished
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && errors.Is(err, ErrCoroutineAlreadyFinished) {
					return
				}

				s.err = workflowerrors.NewPanicError(r)
			}
		}()

		// yield before the first execution
		s.yield(false)

		s.err = fn(ctx)
	}()

	return s
}

func newState() *coState {
	c := &coState{
		blocking:          make(chan bool, 1),
		unblock:           make(chan bool),
		deadlockDetection: DeadlockDetection,
	}

	// Start out as blocked
	c.blocked.Store(true)

	return c
}

func (s *coState) finish() {
	s.finished.Store(true)
	s.blocking <- true
}

func (s *coState) Finished() bool {
	return s.finished.Load()
}

func (s *coState) Blocked() bool {
	return s.blocked.Load()
}

func (s *coState) MadeProgress() {
	s.progress.Store(true)
}

func (s *coState) ResetProgress() {
	s.progress.Store(false)
}

func (s *coState) Progress() bool {
	return s.progress.Load()
}

func (s *coState) Yield() {
	s.yield(true)
}

func (s *coState) yield(markBlocking bool) {
	if markBlocking {
		if s.shouldExit.Load() {
			panic(ErrCoroutineAlreadyFinished)
		}

		s.blocked.Store(true)
		s.blocking <- true
	}

	// Wait for the next Execute() call
	<-s.unblock

	if s.shouldExit.Load() {
		// Goexit runs all deferred functions, which includes calling finish() in the
		// main execution function. That marks the coroutine as finished and blocking.
		runtime.Goexit()
	}

	s.blocked.Store(false)
}

func (s *coState) Execute() {
	s.ResetProgress()

	if s.Finished() {
		return
	}

	t := time.NewTimer(s.deadlockDetection)
	defer t.Stop()

	s.unblock <- true

	runtime.Gosched()

	// Run until blocked (which is also true when finished)
	select {
	case <-s.blocking:
	case <-t.C:
		panic("coroutine timed out")
	}
}

func (s *coState) Exit() {
	if s.Finished() {
		return
	}

	s.shouldExit.Store(true)
	s.Execute()
}

func (s *coState) Error() error {
	return s.err
}

func withCoState(ctx Context, s *coState) Context {
	return WithValue(ctx, coroutinesCtxKey, s)
}

func getCoState(ctx Context) *coState {
	s, ok := ctx.Value(coroutinesCtxKey).(*coState)
	if !ok {
		panic("could not find coroutine state")
	}

	return s
}
