package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/databridge/internal/clarify"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/types"
)

// fakeExecutor records every utterance it receives and answers with fn.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []string
	fn       func(ctx context.Context, req string) (*types.ExecutionResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req string) (*types.ExecutionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.fn == nil {
		return &types.ExecutionResult{Success: true}, nil
	}
	return f.fn(ctx, req)
}

func (f *fakeExecutor) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func startGateway(t *testing.T, exec types.Executor, opts ...Option) (*Gateway, *state.HistoryStore) {
	t.Helper()
	history := state.NewHistoryStore()
	gw := New(exec, history, opts...)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return gw, history
}

func decodeResult(t *testing.T, payload string) *types.ExecutionResult {
	t.Helper()
	var r types.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(payload), &r))
	return &r
}

const populationPayload = `{"success":true,"execution":[{"status":"success","result":[{"type":"text","text":"{\"data\":{\"structure\":{\"name\":\"Pop\"},\"dataSets\":[{\"series\":{\"s\":{\"observations\":{\"1\":1}}}}]}}"}]}]}`

func TestHandleQueryEndToEnd(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		return decodeResult(t, populationPayload), nil
	}}
	gw, _ := startGateway(t, exec)
	ctx := context.Background()

	resp, err := gw.HandleQuery(ctx, Query{UserRequest: "population data"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.True(t, resp.ExtractedData.HasData)
	assert.Equal(t, "Retrieved 1 data series with 1 observations", resp.ExtractedData.Summary)
	assert.Nil(t, resp.Clarification)
	assert.Equal(t, types.DefaultSessionID, resp.ConversationID)
	assert.Equal(t, []string{"population data"}, exec.Requests())

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(out, &body))
	assert.Nil(t, body["clarification"])
	assert.Equal(t, "default", body["conversation_id"])
	assert.Contains(t, body, "original_result")

	turns := gw.History(ctx, "")
	require.Len(t, turns, 1)
	assert.Equal(t, "population data", turns[0].Query)
}

func TestHandleQueryValidation(t *testing.T) {
	exec := &fakeExecutor{}
	gw, history := startGateway(t, exec)
	ctx := context.Background()

	_, err := gw.HandleQuery(ctx, Query{UserRequest: "", SessionID: "s"})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Empty(t, exec.Requests())
	assert.Empty(t, history.List(ctx))
}

func TestHandleQueryForwardsWhitespaceRequest(t *testing.T) {
	exec := &fakeExecutor{}
	gw, history := startGateway(t, exec)
	ctx := context.Background()

	resp, err := gw.HandleQuery(ctx, Query{UserRequest: "  ", SessionID: "s"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"  "}, exec.Requests())

	turns := history.Get(ctx, "s")
	require.Len(t, turns, 1)
	assert.Equal(t, "  ", turns[0].Query)
}

func TestHandleQueryContextAugmentation(t *testing.T) {
	exec := &fakeExecutor{}
	gw, history := startGateway(t, exec)
	ctx := context.Background()

	for _, req := range []string{"A", "B", "C"} {
		_, err := gw.HandleQuery(ctx, Query{UserRequest: req, SessionID: "s", UseContext: true})
		require.NoError(t, err)
	}
	_, err := gw.HandleQuery(ctx, Query{UserRequest: "D", SessionID: "s"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"A",
		"Context: A\nNew request: B",
		"Context: B\nNew request: C",
		"D",
	}, exec.Requests())

	turns := history.Get(ctx, "s")
	require.Len(t, turns, 4)
	for i, want := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, want, turns[i].Query)
	}
}

type fixedBudget string

func (b fixedBudget) Trim(string) string { return string(b) }

func TestHandleQueryTokenBudget(t *testing.T) {
	exec := &fakeExecutor{}
	gw, _ := startGateway(t, exec, WithTokenBudget(fixedBudget("short")))
	ctx := context.Background()

	_, err := gw.HandleQuery(ctx, Query{UserRequest: "a very long first question", SessionID: "s"})
	require.NoError(t, err)
	_, err = gw.HandleQuery(ctx, Query{UserRequest: "next", SessionID: "s", UseContext: true})
	require.NoError(t, err)

	assert.Equal(t, "Context: short\nNew request: next", exec.Requests()[1])
}

func TestHandleQueryFailSoft(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		return nil, fmt.Errorf("call tool: %w", kindError("TransportError"))
	}}
	gw, history := startGateway(t, exec)
	ctx := context.Background()

	resp, err := gw.HandleQuery(ctx, Query{UserRequest: "x", SessionID: "s"})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.OriginalResult)
	assert.Equal(t, "TransportError", resp.OriginalResult.ErrorType)
	assert.Contains(t, resp.OriginalResult.Error, "TransportError")
	assert.False(t, resp.ExtractedData.HasData)
	assert.Nil(t, resp.Clarification)
	assert.Len(t, history.Get(ctx, "s"), 1, "failed turns are still recorded")
}

func TestHandleQueryRetriesTransientErrors(t *testing.T) {
	var calls int
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		calls++
		if calls == 1 {
			return nil, kindError("TransportError")
		}
		return &types.ExecutionResult{Success: true}, nil
	}}
	gw, _ := startGateway(t, exec, WithRetryPolicy(fastPolicy(2)))

	resp, err := gw.HandleQuery(context.Background(), Query{UserRequest: "x"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, calls)
}

func TestHandleQueryClarification(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		return decodeResult(t, `{"success":true,"plan":{"steps":1},"execution":[{"status":"success","result":[{"text":"[\"A\",\"B\",\"C\",\"D\",\"E\",\"F\"]"}]}]}`), nil
	}}
	gw, _ := startGateway(t, exec)

	resp, err := gw.HandleQuery(context.Background(), Query{UserRequest: "what flows exist"})
	require.NoError(t, err)
	require.NotNil(t, resp.Clarification)
	assert.Equal(t, clarify.KindSelectDataflow, resp.Clarification.Kind)
	assert.Len(t, resp.Clarification.Options, 5)
	assert.Equal(t, "Found 6 dataflows", resp.ExtractedData.Summary)
}

func TestHandleQueryTimeout(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, _ string) (*types.ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	history := state.NewHistoryStore()
	gw := New(exec, history, WithQueryTimeout(50*time.Millisecond))
	gw.Start(context.Background())

	_, err := gw.HandleQuery(context.Background(), Query{UserRequest: "slow", SessionID: "s"})
	assert.ErrorIs(t, err, types.ErrTimeout)

	gw.Stop()
	assert.Empty(t, history.Get(context.Background(), "s"), "timed out runs are not recorded")
}

func TestHandleQueryCallerDeadline(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, _ string) (*types.ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	gw, _ := startGateway(t, exec)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := gw.HandleQuery(ctx, Query{UserRequest: "slow"})
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestHandleQuerySerializesSession(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		mu.Lock()
		inFlight++
		maxSeen = max(maxSeen, inFlight)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &types.ExecutionResult{Success: true}, nil
	}}
	gw, history := startGateway(t, exec, WithMaxConcurrent(4))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := gw.HandleQuery(ctx, Query{UserRequest: fmt.Sprint(i), SessionID: "shared", UseContext: true})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "queries of one session must not overlap")
	assert.Len(t, history.Get(ctx, "shared"), 10)
}

func TestHandleReset(t *testing.T) {
	gw, history := startGateway(t, &fakeExecutor{})
	ctx := context.Background()

	gw.HandleReset(ctx, "unknown")
	assert.Empty(t, history.List(ctx), "reset must not create sessions")

	_, err := gw.HandleQuery(ctx, Query{UserRequest: "x", SessionID: "s"})
	require.NoError(t, err)
	_, err = gw.HandleQuery(ctx, Query{UserRequest: "y"})
	require.NoError(t, err)
	assert.Len(t, gw.Sessions(ctx), 2)

	gw.HandleReset(ctx, "s")
	assert.Empty(t, history.Get(ctx, "s"))
	gw.HandleReset(ctx, "")
	assert.Empty(t, gw.History(ctx, types.DefaultSessionID))
}

func TestHandleQueryTranscripts(t *testing.T) {
	dir := t.TempDir()
	transcripts := state.NewTranscriptStore(dir)
	artifacts := state.NewArtifactStore(dir)
	exec := &fakeExecutor{fn: func(context.Context, string) (*types.ExecutionResult, error) {
		return decodeResult(t, populationPayload), nil
	}}
	gw, _ := startGateway(t, exec, WithTranscripts(transcripts, artifacts, true))
	ctx := context.Background()

	_, err := gw.HandleQuery(ctx, Query{UserRequest: "population data", SessionID: "s"})
	require.NoError(t, err)

	entries, err := transcripts.Tail(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "population data", entry.Query)
	assert.True(t, entry.HasData)
	assert.Equal(t, 1, entry.Observations)
	require.NotEmpty(t, entry.ArtifactID)

	raw, err := artifacts.Get(ctx, entry.ArtifactID)
	require.NoError(t, err)
	var stored types.ExecutionResult
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.True(t, stored.Success)

	gw.HandleReset(ctx, "s")
	count, err := transcripts.Count(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHandleQueryAfterStop(t *testing.T) {
	gw := New(&fakeExecutor{}, state.NewHistoryStore())
	gw.Start(context.Background())
	gw.Stop()

	_, err := gw.HandleQuery(context.Background(), Query{UserRequest: "x"})
	assert.True(t, errors.Is(err, ErrQueueStopped))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "żó...", truncate("żółw", 2))
}
