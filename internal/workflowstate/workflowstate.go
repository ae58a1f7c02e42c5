package workflowstate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/command"
	"github.com/modflow/modflow/internal/sync"
)

type key int

var workflowCtxKey key

// DecodingSettable decodes a serialized result and resolves the future waiting for it.
type DecodingSettable func(v payload.Payload, err error) error

// AsDecodingSettable wraps a typed future so it can be resolved with a raw payload.
func AsDecodingSettable[T any](c converter.Converter, f sync.SettableFuture[T]) DecodingSettable {
	return func(v payload.Payload, err error) error {
		if err != nil {
			f.Set(*new(T), err)
			return nil
		}

		var t T
		if v != nil {
			if err := c.From(v, &t); err != nil {
				return fmt.Errorf("converting result payload: %w", err)
			}
		}

		f.Set(t, nil)
		return nil
	}
}

// WfState is the internal state of a single workflow execution while a worker is
// advancing it. It tracks pending commands, futures waiting on events, registered
// signal channels, and the wait the instance is currently suspended on.
type WfState struct {
	instance        *core.WorkflowInstance
	scheduleEventID int64
	commands        []command.Command
	pendingFutures  map[int64]DecodingSettable
	signalChannels  map[string]*signalChannel
	pendingSignals  map[string][]payload.Payload
	openWait        *core.OpenWait
	replaying       bool

	clock     clock.Clock
	time      time.Time
	converter converter.Converter
	logger    *slog.Logger
}

func NewWorkflowState(instance *core.WorkflowInstance, logger *slog.Logger, c converter.Converter, clock clock.Clock) *WfState {
	state := &WfState{
		instance:        instance,
		scheduleEventID: 1,
		commands:        []command.Command{},
		pendingFutures:  map[int64]DecodingSettable{},
		signalChannels:  map[string]*signalChannel{},
		pendingSignals:  map[string][]payload.Payload{},
		converter:       c,
		clock:           clock,
	}

	state.logger = NewReplayLogger(state, logger.With(
		slog.String("instance_id", instance.InstanceID),
		slog.String("execution_id", instance.ExecutionID),
	))

	return state
}

func WorkflowState(ctx sync.Context) *WfState {
	return ctx.Value(workflowCtxKey).(*WfState)
}

func WithWorkflowState(ctx sync.Context, wfState *WfState) sync.Context {
	return sync.WithValue(ctx, workflowCtxKey, wfState)
}

func (wf *WfState) GetNextScheduleEventID() int64 {
	scheduleEventID := wf.scheduleEventID
	wf.scheduleEventID++
	return scheduleEventID
}

func (wf *WfState) TrackFuture(scheduleEventID int64, f DecodingSettable) {
	wf.pendingFutures[scheduleEventID] = f
}

func (wf *WfState) FutureByScheduleEventID(scheduleEventID int64) (DecodingSettable, bool) {
	f, ok := wf.pendingFutures[scheduleEventID]
	return f, ok
}

func (wf *WfState) RemoveFuture(scheduleEventID int64) {
	delete(wf.pendingFutures, scheduleEventID)
}

func (wf *WfState) Commands() []command.Command {
	return wf.commands
}

func (wf *WfState) AddCommand(cmd command.Command) {
	wf.commands = append(wf.commands, cmd)
}

func (wf *WfState) CommandByScheduleEventID(scheduleEventID int64) command.Command {
	for _, c := range wf.commands {
		if c.ID() == scheduleEventID {
			return c
		}
	}

	return nil
}

func (wf *WfState) RemoveCommand(cmd command.Command) {
	for i, c := range wf.commands {
		if c.ID() == cmd.ID() {
			wf.commands = append(wf.commands[:i], wf.commands[i+1:]...)
			return
		}
	}
}

// BeginWait records that the instance is suspending on the given signal. Only one
// wait may be outstanding at a time.
func (wf *WfState) BeginWait(signal string, deadline *time.Time) error {
	if wf.openWait != nil {
		return fmt.Errorf("already waiting for signal %q", wf.openWait.Signal)
	}

	wf.openWait = &core.OpenWait{
		Signal:   signal,
		Deadline: deadline,
	}

	return nil
}

// FinishWait clears the outstanding wait once it resolved.
func (wf *WfState) FinishWait() {
	wf.openWait = nil
}

func (wf *WfState) OpenWait() *core.OpenWait {
	return wf.openWait
}

func (wf *WfState) SetReplaying(replaying bool) {
	wf.replaying = replaying
}

func (wf *WfState) Replaying() bool {
	return wf.replaying
}

// SetTime sets the current workflow time, taken from the event being processed.
func (wf *WfState) SetTime(t time.Time) {
	wf.time = t
}

func (wf *WfState) Time() time.Time {
	return wf.time
}

func (wf *WfState) Instance() *core.WorkflowInstance {
	return wf.instance
}

func (wf *WfState) Converter() converter.Converter {
	return wf.converter
}

func (wf *WfState) Logger() *slog.Logger {
	return wf.logger
}
