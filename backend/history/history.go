package history

import (
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_WorkflowExecutionStarted
	EventType_WorkflowExecutionFinished
	EventType_WorkflowExecutionCanceled

	EventType_WorkflowTaskStarted

	EventType_TaskScheduled
	EventType_TaskCompleted
	EventType_TaskFailed

	EventType_TimerScheduled
	EventType_TimerFired
	EventType_TimerCanceled

	EventType_SignalReceived
)

func (et EventType) String() string {
	switch et {
	case EventType_WorkflowExecutionStarted:
		return "WorkflowExecutionStarted"
	case EventType_WorkflowExecutionFinished:
		return "WorkflowExecutionFinished"
	case EventType_WorkflowExecutionCanceled:
		return "WorkflowExecutionCanceled"

	case EventType_WorkflowTaskStarted:
		return "WorkflowTaskStarted"

	case EventType_TaskScheduled:
		return "TaskScheduled"
	case EventType_TaskCompleted:
		return "TaskCompleted"
	case EventType_TaskFailed:
		return "TaskFailed"

	case EventType_TimerScheduled:
		return "TimerScheduled"
	case EventType_TimerFired:
		return "TimerFired"
	case EventType_TimerCanceled:
		return "TimerCanceled"

	case EventType_SignalReceived:
		return "SignalReceived"

	default:
		return "Unknown"
	}
}

type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id,omitempty"`

	Type EventType `json:"type,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// SequenceID is the position of this event in the instance history. Only set for
	// events that have been executed and persisted.
	SequenceID int64 `json:"sequence_id,omitempty"`

	// ScheduleEventID correlates events that belong together. If a task is scheduled,
	// the TaskScheduled event and the TaskCompleted/TaskFailed event share the same
	// ScheduleEventID.
	ScheduleEventID int64 `json:"schedule_event_id,omitempty"`

	// Attributes are event type specific attributes
	Attributes any `json:"attr,omitempty"`

	// VisibleAt is the earliest time the event may be delivered to its instance. Used
	// for durable timers: a TimerFired event with VisibleAt in the future stays
	// pending in the backend until the deadline has passed.
	VisibleAt *time.Time `json:"visible_at,omitempty"`
}

func (e *Event) String() string {
	return e.Type.String()
}

type HistoryEventOption func(e *Event)

func ScheduleEventID(scheduleEventID int64) HistoryEventOption {
	return func(e *Event) {
		e.ScheduleEventID = scheduleEventID
	}
}

func VisibleAt(visibleAt time.Time) HistoryEventOption {
	return func(e *Event) {
		e.VisibleAt = &visibleAt
	}
}

func NewPendingEvent(timestamp time.Time, eventType EventType, attributes any, opts ...HistoryEventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func NewWorkflowCancellationEvent(timestamp time.Time) *Event {
	return NewPendingEvent(timestamp, EventType_WorkflowExecutionCanceled, &ExecutionCanceledAttributes{})
}
