package workflow

import (
	"time"

	"github.com/modflow/modflow/internal/command"
	"github.com/modflow/modflow/internal/sync"
	"github.com/modflow/modflow/internal/workflowstate"
)

type timerOptions struct {
	name string
}

type TimerOption func(*timerOptions)

// WithTimerName attaches a name to the timer, for logging and inspection.
func WithTimerName(name string) TimerOption {
	return func(o *timerOptions) {
		o.name = name
	}
}

// ScheduleTimer returns a future that resolves after delay has elapsed. The timer is
// durable: it survives worker restarts and fires even if no worker was running when
// the deadline passed. Canceling ctx cancels the timer.
func ScheduleTimer(ctx Context, delay time.Duration, opts ...TimerOption) Future[struct{}] {
	options := &timerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return scheduleTimerAt(ctx, Now(ctx).Add(delay), options.name)
}

func scheduleTimerAt(ctx Context, at time.Time, name string) Future[struct{}] {
	wfState := workflowstate.WorkflowState(ctx)

	scheduleEventID := wfState.GetNextScheduleEventID()
	cmd := command.NewScheduleTimerCommand(scheduleEventID, at, name)
	wfState.AddCommand(cmd)

	f := sync.NewFuture[struct{}]()
	wfState.TrackFuture(scheduleEventID, workflowstate.AsDecodingSettable(wfState.Converter(), f))

	if d := ctx.Done(); d != nil {
		if c, ok := d.(sync.ChannelInternal[struct{}]); ok {
			if c.Closed() {
				// Context already canceled, don't schedule the timer at all
				wfState.RemoveCommand(cmd)
				wfState.RemoveFuture(scheduleEventID)
				f.Set(struct{}{}, sync.Canceled)
			} else {
				c.AddReceiveCallback(func(v struct{}, ok bool) {
					cmd.Cancel()

					if !f.Ready() {
						wfState.RemoveFuture(scheduleEventID)
						f.Set(struct{}{}, sync.Canceled)
					}
				})
			}
		}
	}

	return f
}
