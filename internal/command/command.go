package command

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/modflow/modflow/backend/history"
)

type CommandState int

const (
	CommandState_Pending CommandState = iota
	CommandState_Committed
	CommandState_CancelPending
	CommandState_Canceled
	CommandState_Done
)

func (cs CommandState) String() string {
	switch cs {
	case CommandState_Pending:
		return "Pending"
	case CommandState_Committed:
		return "Committed"
	case CommandState_CancelPending:
		return "CancelPending"
	case CommandState_Canceled:
		return "Canceled"
	case CommandState_Done:
		return "Done"
	default:
		panic("unknown command state")
	}
}

// Command is a side effect requested by workflow code: schedule a task, schedule or
// cancel a timer, complete the workflow. Commands start out Pending; executing a
// pending command emits the history and queue events that make the side effect
// durable. During replay, commands are committed from recorded history instead, so no
// events are emitted twice.
type Command interface {
	ID() int64

	Type() string

	State() CommandState

	// Execute emits the events for this command. Returns nil if the command does not
	// require any action in its current state.
	Execute(clock clock.Clock) *CommandResult

	// Commit marks the command as already executed, without emitting events. Used
	// when replaying the recorded history.
	Commit()

	// Done marks the command's result as applied.
	Done()
}

// CancelableCommand is a command whose effect can be revoked before it resolved.
type CancelableCommand interface {
	Command

	// Cancel cancels the command.
	Cancel()

	// HandleCancel handles a cancel event during replay
	HandleCancel()
}

type CommandResult struct {
	// Completed is true if this command finished the workflow instance.
	Completed bool

	// Events to append to the instance history.
	Events []*history.Event

	// TaskEvents to enqueue for the task workers.
	TaskEvents []*history.Event

	// TimerEvents to persist as future events.
	TimerEvents []*history.Event
}

type command struct {
	id    int64
	name  string
	state CommandState
}

func (c *command) ID() int64 {
	return c.id
}

func (c *command) Type() string {
	return c.name
}

func (c *command) State() CommandState {
	return c.state
}

func (c *command) Commit() {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed
	default:
		c.invalidStateTransition(CommandState_Committed)
	}
}

func (c *command) Done() {
	switch c.state {
	case CommandState_Pending, CommandState_Committed:
		c.state = CommandState_Done
	default:
		c.invalidStateTransition(CommandState_Done)
	}
}

func (c *command) invalidStateTransition(to CommandState) {
	panic(fmt.Sprintf("invalid state transition for command %s: %s -> %s", c.name, c.state, to))
}

type cancelableCommand struct {
	command
}

func (c *cancelableCommand) Cancel() {
	switch c.state {
	case CommandState_Pending:
		// Not executed yet, nothing to revoke
		c.state = CommandState_Canceled
	case CommandState_Committed:
		c.state = CommandState_CancelPending
	case CommandState_Canceled, CommandState_Done:
		// no-op
	default:
		c.invalidStateTransition(CommandState_Canceled)
	}
}

func (c *cancelableCommand) HandleCancel() {
	switch c.state {
	case CommandState_CancelPending:
		c.state = CommandState_Canceled
	default:
		c.invalidStateTransition(CommandState_Canceled)
	}
}

func (c *cancelableCommand) Done() {
	switch c.state {
	case CommandState_Committed, CommandState_Canceled:
		c.state = CommandState_Done
	default:
		c.invalidStateTransition(CommandState_Done)
	}
}
