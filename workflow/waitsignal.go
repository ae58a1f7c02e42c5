package workflow

import (
	"time"

	"github.com/modflow/modflow/internal/workflowstate"
)

// WaitForSignal suspends the workflow until a signal with the given name arrives or
// until timeout elapses, whichever comes first. It returns the signal value and true
// if a signal arrived, or the zero value and false on timeout. A timeout of zero or
// less waits without a deadline.
//
// The wait is durable. While the instance is suspended it occupies no worker; the
// timeout is a durable timer that fires even across restarts. The backend records
// the open wait so that signals sent when nobody is waiting can be rejected.
//
// When a signal and the timeout become ready in the same workflow task, the signal
// wins.
func WaitForSignal[T any](ctx Context, name string, timeout time.Duration) (T, bool, error) {
	var zero T

	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}

	wfState := workflowstate.WorkflowState(ctx)

	var deadline *time.Time
	if timeout > 0 {
		d := Now(ctx).Add(timeout)
		deadline = &d
	}

	if err := wfState.BeginWait(name, deadline); err != nil {
		return zero, false, err
	}
	defer wfState.FinishWait()

	sc := NewSignalChannel[T](ctx, name)

	var (
		received T
		ok       bool
		timerErr error
		canceled bool
	)

	// The signal case comes first so that a signal arriving together with the
	// deadline resolves the wait in favor of the signal.
	cases := []SelectCase{
		Receive(sc, func(ctx Context, v T, chOk bool) {
			received = v
			ok = true
		}),
	}

	var cancelTimer CancelFunc
	if deadline != nil {
		tctx, cancel := WithCancel(ctx)
		cancelTimer = cancel

		tf := scheduleTimerAt(tctx, *deadline, name)

		cases = append(cases, Await(tf, func(ctx Context, f Future[struct{}]) {
			_, err := f.Get(ctx)
			if err != nil && err != Canceled {
				timerErr = err
			}
		}))
	}

	if d := ctx.Done(); d != nil {
		cases = append(cases, Receive(d, func(ctx Context, _ struct{}, _ bool) {
			canceled = true
		}))
	}

	Select(ctx, cases...)

	if ok && cancelTimer != nil {
		cancelTimer()
	}

	switch {
	case timerErr != nil:
		return zero, false, timerErr
	case canceled:
		return zero, false, Canceled
	default:
		return received, ok, nil
	}
}
