package workflow

import (
	"time"
)

// Sleep suspends the workflow for the given duration.
func Sleep(ctx Context, d time.Duration) error {
	_, err := ScheduleTimer(ctx, d).Get(ctx)

	return err
}
