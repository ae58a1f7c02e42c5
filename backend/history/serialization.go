package history

import (
	"encoding/json"
	"fmt"
)

func (e *Event) UnmarshalJSON(data []byte) error {
	type Aevent Event
	a := &struct {
		// Attributes allows us to defer unmarshaling the events. Has to match the
		// struct tag in Event.
		Attributes json.RawMessage `json:"attr,omitempty"`
		*Aevent
	}{}

	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*e = *(*Event)(a.Aevent)
	attributes, err := DeserializeAttributes(e.Type, a.Attributes)
	if err != nil {
		return err
	}

	e.Attributes = attributes

	return nil
}

func SerializeAttributes(attributes any) ([]byte, error) {
	return json.Marshal(attributes)
}

func DeserializeAttributes(eventType EventType, attributes []byte) (attr any, err error) {
	switch eventType {
	case EventType_WorkflowExecutionStarted:
		attr = &ExecutionStartedAttributes{}
	case EventType_WorkflowExecutionFinished:
		attr = &ExecutionCompletedAttributes{}
	case EventType_WorkflowExecutionCanceled:
		attr = &ExecutionCanceledAttributes{}

	case EventType_WorkflowTaskStarted:
		attr = &WorkflowTaskStartedAttributes{}

	case EventType_TaskScheduled:
		attr = &TaskScheduledAttributes{}
	case EventType_TaskCompleted:
		attr = &TaskCompletedAttributes{}
	case EventType_TaskFailed:
		attr = &TaskFailedAttributes{}

	case EventType_TimerScheduled:
		attr = &TimerScheduledAttributes{}
	case EventType_TimerFired:
		attr = &TimerFiredAttributes{}
	case EventType_TimerCanceled:
		attr = &TimerCanceledAttributes{}

	case EventType_SignalReceived:
		attr = &SignalReceivedAttributes{}

	default:
		return nil, fmt.Errorf("unknown event type when deserializing attributes: %v", eventType)
	}

	err = json.Unmarshal(attributes, &attr)
	return attr, err
}
