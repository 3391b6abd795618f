package gateway

import (
	"context"
	"time"

	"github.com/user/databridge/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single query on its session lane. Its fields other than ID,
// SessionID and Query are owned by the queue until Done is closed.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Query     Query
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Response  *Response
	Error     error

	// Ctx is the caller's context, additionally canceled when the queue stops.
	Ctx context.Context

	parent context.Context
	cancel context.CancelFunc
	stop   func() bool
	done   chan struct{}
}

// NewRun creates a Run in the Queued state. ctx bounds the run's lifetime.
func NewRun(ctx context.Context, sessionID types.SessionID, query Query) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Query:     query,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		parent:    ctx,
		done:      make(chan struct{}),
	}
}

// Done is closed once the run has completed or failed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) begin() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

// complete records the outcome and releases waiters. It is called exactly once.
func (r *Run) complete(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	if r.stop != nil {
		r.stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	close(r.done)
}
