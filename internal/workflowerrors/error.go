package workflowerrors

import (
	"encoding/json"
	"errors"
	"reflect"
)

// Error is a serializable error. Workflow and task errors cross process boundaries
// through the instance history, so they are persisted as type + message instead of
// concrete Go values.
type Error struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`

	// Permanent errors are never retried.
	Permanent  bool   `json:"permanent,omitempty"`
	Cause      *Error `json:"cause,omitempty"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

var _ error = (*Error)(nil)

func (we *Error) Error() string {
	return we.Message
}

func (we *Error) Unwrap() error {
	if we == nil || we.Cause == nil {
		return nil
	}

	return we.Cause
}

func (we *Error) Stack() string {
	return we.Stacktrace
}

func (we *Error) UnmarshalJSON(b []byte) error {
	type Alias Error
	a := &struct {
		*Alias
	}{}

	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}

	*we = *(*Error)(a.Alias)

	return nil
}

// FromError wraps the given error into an Error which can be persisted and restored.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return e
	}

	e := &Error{
		Type:    getErrorType(err),
		Message: err.Error(),
	}

	if stackTracer, ok := err.(interface{ Stack() string }); ok {
		e.Stacktrace = stackTracer.Stack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		e.Cause = FromError(cause)
	}

	return e
}

// ToError converts a persisted Error back into a regular error. Known error types are
// reconstructed as concrete values, unknown ones stay *Error.
func ToError(err *Error) error {
	if err == nil {
		return nil
	}

	e := *err

	switch err.Type {
	case getErrorType(&PanicError{}):
		return &PanicError{message: e.Message, stacktrace: e.Stacktrace}

	default:
		return &e
	}
}

// NewPermanentError marks the given error as not retryable.
func NewPermanentError(err error) *Error {
	e := FromError(err)
	e.Permanent = true
	return e
}

// CanRetry returns true if the given error is retryable.
func CanRetry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return !e.Permanent
	}

	// Retry errors by default
	return true
}

func getErrorType(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Name()
}
