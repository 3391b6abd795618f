package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds reported as error_type in failed execution results.
const (
	KindTransport = "TransportError"
	KindProtocol  = "ProtocolError"
	KindDecode    = "DecodeError"
	KindTool      = "ToolError"
	KindTimeout   = "Timeout"
	KindCanceled  = "Canceled"
)

var (
	// ErrNoContent is returned when the tool result carries no text block.
	ErrNoContent = errors.New("tool returned no text content")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("executor closed")
)

// Error wraps a failed backend call with the operation and a failure kind.
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType returns the error_type string for the failure.
func (e *Error) ErrorType() string { return e.Kind }

// classify picks the kind for a failed call. Context expiry wins over the
// underlying error, network failures are transport errors, and anything else
// gets the fallback for the operation.
func classify(ctx context.Context, err error, fallback string) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return KindCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	return fallback
}
