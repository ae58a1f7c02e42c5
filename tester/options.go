package tester

import (
	"log/slog"
	"time"

	"github.com/modflow/modflow/backend/converter"
)

type options struct {
	TestTimeout time.Duration
	Logger      *slog.Logger
	Converter   converter.Converter
}

type WorkflowTesterOption func(*options)

func WithLogger(logger *slog.Logger) WorkflowTesterOption {
	return func(o *options) {
		o.Logger = logger
	}
}

func WithConverter(converter converter.Converter) WorkflowTesterOption {
	return func(o *options) {
		o.Converter = converter
	}
}

// WithTestTimeout sets the wall-clock time Execute may run before the tester
// considers the workflow blocked. This is not workflow time, timers still fire
// through the simulated clock.
func WithTestTimeout(timeout time.Duration) WorkflowTesterOption {
	return func(o *options) {
		o.TestTimeout = timeout
	}
}
