package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/databridge/internal/clarify"
	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/types"
)

const (
	defaultMaxConcurrent = 2
	logRequestChars      = 50
	noSummary            = "No summary"
)

// Gateway answers queries. Each query runs on its session's lane: prior
// turns are read, the request is optionally augmented with the last query,
// the executor is called, and the extracted result is appended as a turn.
type Gateway struct {
	executor      types.Executor
	history       HistoryStore
	transcripts   TranscriptRecorder
	artifacts     ArtifactWriter
	budget        TokenBudget
	retry         *RetryPolicy
	extractor     extract.Extractor
	logger        *slog.Logger
	queryTimeout  time.Duration
	clearOnReset  bool
	maxConcurrent int64
	Queue         *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used for query and failure records.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithRetryPolicy sets the retry policy for executor calls.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithTokenBudget trims the previous query before it is used as context.
func WithTokenBudget(b TokenBudget) Option {
	return func(g *Gateway) { g.budget = b }
}

// WithTranscripts records every turn, and its raw result when artifacts is
// non-nil. When clearOnReset is set, a reset also deletes the session's records.
func WithTranscripts(t TranscriptRecorder, artifacts ArtifactWriter, clearOnReset bool) Option {
	return func(g *Gateway) {
		g.transcripts = t
		g.artifacts = artifacts
		g.clearOnReset = clearOnReset
	}
}

// WithQueryTimeout bounds every query, on top of the caller's deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.queryTimeout = d }
}

// WithMaxConcurrent bounds the number of executor calls in flight.
func WithMaxConcurrent(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxConcurrent = n
		}
	}
}

// New creates a Gateway that executes queries with executor and keeps turns
// in history.
func New(executor types.Executor, history HistoryStore, opts ...Option) *Gateway {
	g := &Gateway{
		executor:      executor,
		history:       history,
		retry:         NoRetry(),
		logger:        slog.Default(),
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.extractor = extract.Extractor{Logger: g.logger}
	g.Queue = NewQueue(g.maxConcurrent)
	g.Queue.logger = g.logger
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// HandleQuery runs q on its session's lane and waits for the response.
// An empty request fails with ErrValidation; a query still running when ctx
// expires fails with ErrTimeout.
func (g *Gateway) HandleQuery(ctx context.Context, q Query) (*Response, error) {
	if q.UserRequest == "" {
		return nil, fmt.Errorf("%w: missing user_request", types.ErrValidation)
	}
	q.SessionID = q.SessionID.OrDefault()

	if g.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.queryTimeout)
		defer cancel()
	}

	run := NewRun(ctx, q.SessionID, q)
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, fmt.Errorf("enqueue query: %w", err)
	}

	select {
	case <-run.Done():
		if run.Error != nil {
			return nil, waitError(run.Error)
		}
		return run.Response, nil
	case <-ctx.Done():
		return nil, waitError(ctx.Err())
	}
}

func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return err
}

// process answers a single run. It is the queue's processor, so it never
// runs concurrently with another run of the same session.
func (g *Gateway) process(run *Run) error {
	ctx := run.Ctx
	q := run.Query

	utterance := q.UserRequest
	if q.UseContext {
		if turns := g.history.Get(ctx, run.SessionID); len(turns) > 0 {
			utterance = g.augment(turns[len(turns)-1].Query, q.UserRequest)
		}
	}

	var result *types.ExecutionResult
	err := g.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.executor.Execute(ctx, utterance)
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("execute query: %w", ctxErr)
	}
	if err != nil {
		g.logger.Warn("executor failed",
			"session_id", string(run.SessionID),
			"error_type", types.ErrorKind(err),
			"error", err,
		)
		result = types.FailedResult(err)
	}
	if result == nil {
		result = types.FailedResult(errors.New("executor returned no result"))
	}

	extracted := g.extractor.Extract(result)
	clar := clarify.Advise(result, extracted)

	turn := state.ConversationTurn{
		ID:        types.NewTurnID(),
		Query:     q.UserRequest,
		Result:    *result,
		Extracted: extracted,
		At:        time.Now(),
	}
	g.history.Append(ctx, run.SessionID, turn)
	g.record(context.WithoutCancel(ctx), run.SessionID, turn, clar)

	run.Response = &Response{
		Success:        result.Success,
		OriginalResult: result,
		ExtractedData:  extracted,
		Clarification:  clar,
		ConversationID: run.SessionID,
	}

	summary := extracted.Summary
	if summary == "" {
		summary = noSummary
	}
	g.logger.Info("query",
		"session_id", string(run.SessionID),
		"request", truncate(q.UserRequest, logRequestChars),
		"summary", summary,
	)
	return nil
}

// augment prefixes request with the previous query. The previous query is
// the one the user typed, never an already augmented utterance.
func (g *Gateway) augment(last, request string) string {
	if g.budget != nil {
		last = g.budget.Trim(last)
	}
	return fmt.Sprintf("Context: %s\nNew request: %s", last, request)
}

// record writes the transcript entry and raw-result artifact for a turn.
// Failures are logged; they never fail the query.
func (g *Gateway) record(ctx context.Context, sessionID types.SessionID, turn state.ConversationTurn, clar *clarify.Clarification) {
	if g.transcripts == nil {
		return
	}

	entry := &state.TranscriptEntry{
		TurnID:       turn.ID,
		SessionID:    sessionID,
		Query:        turn.Query,
		Success:      turn.Result.Success,
		ErrorType:    turn.Result.ErrorType,
		HasData:      turn.Extracted.HasData,
		Summary:      turn.Extracted.Summary,
		Dataflows:    len(turn.Extracted.Dataflows),
		Observations: len(turn.Extracted.Observations),
		At:           turn.At,
	}
	if clar != nil {
		entry.Clarification = string(clar.Kind)
	}

	if g.artifacts != nil {
		id, err := g.artifacts.Put(ctx, sessionID, turn.ID, state.ArtifactKindResult, turn.Result)
		if err != nil {
			g.logger.Error("store result artifact", "session_id", string(sessionID), "error", err)
		} else {
			entry.ArtifactID = id
		}
	}

	if err := g.transcripts.Append(ctx, entry); err != nil {
		g.logger.Error("append transcript", "session_id", string(sessionID), "error", err)
	}
}

// HandleReset forgets the session's history. It always succeeds; failures
// to clear on-disk records are logged.
func (g *Gateway) HandleReset(ctx context.Context, sessionID types.SessionID) {
	sessionID = sessionID.OrDefault()
	g.history.Reset(ctx, sessionID)

	if g.clearOnReset && g.transcripts != nil {
		if err := g.transcripts.Clear(ctx, sessionID); err != nil {
			g.logger.Error("clear transcript", "session_id", string(sessionID), "error", err)
		}
	}
	g.logger.Info("reset", "session_id", string(sessionID))
}

// Sessions lists the sessions with history.
func (g *Gateway) Sessions(ctx context.Context) []state.SessionInfo {
	return g.history.List(ctx)
}

// History returns the turns of a session.
func (g *Gateway) History(ctx context.Context, sessionID types.SessionID) []state.ConversationTurn {
	return g.history.Get(ctx, sessionID.OrDefault())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
