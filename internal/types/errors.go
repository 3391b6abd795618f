// internal/types/errors.go
package types

import (
	"context"
	"errors"
)

var (
	// ErrValidation marks a request rejected before it reaches the backend.
	ErrValidation = errors.New("validation error")

	// ErrTimeout is returned when a query does not complete before its deadline.
	ErrTimeout = errors.New("query timed out")
)

// Typed is implemented by errors that carry a short classification, such as
// the executor's transport and protocol errors.
type Typed interface {
	error
	ErrorType() string
}

// ErrorKind classifies err for the error_type field of a failed result.
func ErrorKind(err error) string {
	var typed Typed
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	}
	return "Error"
}
