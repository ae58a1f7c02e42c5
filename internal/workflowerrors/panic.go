package workflowerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// PanicError is raised when workflow or task code panics.
type PanicError struct {
	message    string
	stacktrace string
}

var _ error = (*PanicError)(nil)

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

func NewPanicError(v any) *PanicError {
	return &PanicError{
		message:    fmt.Sprintf("panic: %v", v),
		stacktrace: string(goerrors.Wrap(v, 2).Stack()),
	}
}
