package command

import (
	"github.com/benbjohnson/clock"
	"github.com/modflow/modflow/backend/history"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/internal/workflowerrors"
)

type CompleteWorkflowCommand struct {
	command

	Result payload.Payload
	Error  *workflowerrors.Error
}

var _ Command = (*CompleteWorkflowCommand)(nil)

func NewCompleteWorkflowCommand(id int64, result payload.Payload, err error) *CompleteWorkflowCommand {
	return &CompleteWorkflowCommand{
		command: command{
			id:    id,
			name:  "CompleteWorkflow",
			state: CommandState_Pending,
		},
		Result: result,
		Error:  workflowerrors.FromError(err),
	}
}

func (c *CompleteWorkflowCommand) Execute(clock clock.Clock) *CommandResult {
	switch c.state {
	case CommandState_Pending:
		c.state = CommandState_Done

		return &CommandResult{
			Completed: true,
			Events: []*history.Event{
				history.NewPendingEvent(
					clock.Now(),
					history.EventType_WorkflowExecutionFinished,
					&history.ExecutionCompletedAttributes{
						Result: c.Result,
						Error:  c.Error,
					},
					history.ScheduleEventID(c.id),
				),
			},
		}
	}

	return nil
}
