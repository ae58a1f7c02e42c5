package command

import (
	"github.com/benbjohnson/clock"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/payload"
)

type ScheduleTaskCommand struct {
	command

	Name   string
	Inputs []payload.Payload
	Retry  *history.RetryPolicy
}

var _ Command = (*ScheduleTaskCommand)(nil)

func NewScheduleTaskCommand(id int64, name string, inputs []payload.Payload, retry *history.RetryPolicy) *ScheduleTaskCommand {
	return &ScheduleTaskCommand{
		command: command{
			id:    id,
			name:  "ScheduleTask",
			state: CommandState_Pending,
		},
		Name:   name,
		Inputs: inputs,
		Retry:  retry,
	}
}

func (c *ScheduleTaskCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Committed

		event := history.NewPendingEvent(
			clock.Now(),
			history.EventType_TaskScheduled,
			&history.TaskScheduledAttributes{
				Name:   c.Name,
				Inputs: c.Inputs,
				Retry:  c.Retry,
			},
			history.ScheduleEventID(c.id),
		)

		return &CommandResult{
			Events:     []*history.Event{event},
			TaskEvents: []*history.Event{event},
		}
	}

	return nil
}
