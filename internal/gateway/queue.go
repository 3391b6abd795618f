package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/databridge/internal/types"
)

const (
	laneBuffer      = 100
	laneIdleTimeout = time.Minute
)

var (
	// ErrQueueStopped is returned for runs that cannot execute because the
	// queue has been stopped or was never started.
	ErrQueueStopped = errors.New("queue stopped")

	// ErrQueueFull is returned when a session already has too many pending runs.
	ErrQueueFull = errors.New("queue full")
)

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel (lane) so that runs within a
// session are processed sequentially, while the semaphore limits the
// total number of concurrent run processors across all sessions. Lanes
// that stay empty for idleTimeout are retired.
type Queue struct {
	lanes       map[types.SessionID]chan *Run
	semaphore   *semaphore.Weighted
	processor   func(*Run) error
	active      atomic.Int64
	idleTimeout time.Duration
	logger      *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all session lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:       make(map[types.SessionID]chan *Run),
		semaphore:   semaphore.NewWeighted(maxConcurrent),
		idleTimeout: laneIdleTimeout,
		logger:      slog.Default(),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, fails every pending run with
// ErrQueueStopped, and waits for in-flight processors to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	for id, lane := range q.lanes {
		drain(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func drain(lane chan *Run) {
	for {
		select {
		case run := <-lane:
			run.complete(ErrQueueStopped)
		default:
			return
		}
	}
}

// Enqueue adds a Run to the session's lane, creating the lane (and its
// goroutine) on first use. Returns ErrQueueFull if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil || q.ctx.Err() != nil {
		return ErrQueueStopped
	}

	parent := run.parent
	if parent == nil {
		parent = q.ctx
	}
	run.Ctx, run.cancel = context.WithCancel(parent)
	run.stop = context.AfterFunc(q.ctx, run.cancel)

	lane, exists := q.lanes[run.SessionID]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(run.SessionID, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		run.stop()
		run.cancel()
		return fmt.Errorf("%w for session %s", ErrQueueFull, run.SessionID)
	}
}

// processLane drains a single session lane, acquiring a semaphore slot
// before running the processor synchronously. This ensures strict FIFO
// ordering within a session while the semaphore limits cross-session
// parallelism.
func (q *Queue) processLane(sessionID types.SessionID, lane chan *Run) {
	defer q.wg.Done()

	idle := time.NewTimer(q.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case run := <-lane:
			q.run(run)
			idle.Reset(q.idleTimeout)
		case <-idle.C:
			if q.retire(sessionID, lane) {
				return
			}
			idle.Reset(q.idleTimeout)
		case <-q.ctx.Done():
			return
		}
	}
}

// retire removes an empty lane. Enqueue sends under the same lock, so a lane
// seen empty here cannot receive another run.
func (q *Queue) retire(sessionID types.SessionID, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(lane) > 0 || q.lanes[sessionID] != lane {
		return false
	}
	delete(q.lanes, sessionID)
	return true
}

func (q *Queue) run(run *Run) {
	if err := q.semaphore.Acquire(run.Ctx, 1); err != nil {
		run.complete(err)
		return
	}
	defer q.semaphore.Release(1)

	if q.processor == nil {
		run.complete(nil)
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	run.begin()
	err := q.processor(run)
	if err != nil {
		q.logger.Error("run failed", "run_id", string(run.ID), "session_id", string(run.SessionID), "error", err)
	}
	run.complete(err)
}

// Lanes returns the number of live session lanes.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
