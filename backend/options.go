package backend

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/modflow/modflow/backend/converter"
)

type Options struct {
	Logger *slog.Logger

	TracerProvider trace.TracerProvider

	// Converter is used for serializing and deserializing inputs and results. If not
	// explicitly set, converter.DefaultConverter is used.
	Converter converter.Converter

	// WorkflowLockTimeout determines how long a workflow task can be locked for. If
	// the task is not completed by then, it is considered abandoned and another
	// worker may pick it up.
	WorkflowLockTimeout time.Duration

	// TaskLockTimeout determines how long a task execution can be locked for.
	TaskLockTimeout time.Duration

	// SignalGraceWindow allows a signal to still be accepted this long after the
	// wait deadline passed, as long as the timeout has not been processed yet.
	SignalGraceWindow time.Duration
}

var DefaultOptions Options = Options{
	WorkflowLockTimeout: time.Minute,
	TaskLockTimeout:     time.Minute * 2,

	Logger:         slog.Default(),
	TracerProvider: noop.NewTracerProvider(),
	Converter:      converter.DefaultConverter,
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithWorkflowLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.WorkflowLockTimeout = timeout
	}
}

func WithTaskLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.TaskLockTimeout = timeout
	}
}

func WithSignalGraceWindow(window time.Duration) BackendOption {
	return func(o *Options) {
		o.SignalGraceWindow = window
	}
}

func ApplyOptions(opts ...BackendOption) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}
