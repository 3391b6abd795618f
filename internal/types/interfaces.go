// internal/types/interfaces.go
package types

import "context"

// Executor runs a natural-language request through the remote workflow backend.
// Transport and protocol failures are returned as errors; callers decide how to
// surface them.
type Executor interface {
	Execute(ctx context.Context, userRequest string) (*ExecutionResult, error)
}
