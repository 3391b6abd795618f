package gateway

import (
	"context"

	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/tokens"
	"github.com/user/databridge/internal/types"
)

// HistoryStore holds the turn history the gateway reads and appends to.
type HistoryStore interface {
	Get(ctx context.Context, id types.SessionID) []state.ConversationTurn
	Append(ctx context.Context, id types.SessionID, turn state.ConversationTurn)
	Reset(ctx context.Context, id types.SessionID)
	List(ctx context.Context) []state.SessionInfo
}

// TranscriptRecorder persists a record of each answered query.
type TranscriptRecorder interface {
	Append(ctx context.Context, entry *state.TranscriptEntry) error
	Clear(ctx context.Context, id types.SessionID) error
}

// ArtifactWriter persists raw execution results.
type ArtifactWriter interface {
	Put(ctx context.Context, sessionID types.SessionID, turnID types.TurnID, kind string, data any) (types.ArtifactID, error)
}

// TokenBudget shortens the prior query used as context.
type TokenBudget interface {
	Trim(text string) string
}

// Compile-time interface compliance checks.
var (
	_ HistoryStore       = (*state.HistoryStore)(nil)
	_ TranscriptRecorder = (*state.TranscriptStore)(nil)
	_ ArtifactWriter     = (*state.ArtifactStore)(nil)
	_ TokenBudget        = (*tokens.Budget)(nil)
)
