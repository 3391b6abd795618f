// internal/state/history.go
package state

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/types"
)

// ConversationTurn is one answered query in a session.
type ConversationTurn struct {
	ID        types.TurnID          `json:"id"`
	Query     string                `json:"query"`
	Result    types.ExecutionResult `json:"result"`
	Extracted extract.ExtractedData `json:"extracted"`
	At        time.Time             `json:"at"`
}

// SessionInfo describes a session held by a HistoryStore.
type SessionInfo struct {
	SessionID types.SessionID `json:"session_id"`
	Turns     int             `json:"turns"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type history struct {
	turns   []ConversationTurn
	created time.Time
	updated time.Time
	touched uint64
}

// HistoryStore is an in-memory, per-session turn history. Sessions are
// created on first append and live until reset or evicted.
type HistoryStore struct {
	mu          sync.RWMutex
	sessions    map[types.SessionID]*history
	clock       uint64
	maxTurns    int
	maxSessions int
}

// HistoryOption configures a HistoryStore.
type HistoryOption func(*HistoryStore)

// WithMaxTurns keeps at most n turns per session, dropping the oldest.
// Zero disables the cap.
func WithMaxTurns(n int) HistoryOption {
	return func(h *HistoryStore) { h.maxTurns = max(n, 0) }
}

// WithMaxSessions keeps at most n sessions, evicting the one updated least
// recently. Zero disables the cap.
func WithMaxSessions(n int) HistoryOption {
	return func(h *HistoryStore) { h.maxSessions = max(n, 0) }
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore(opts ...HistoryOption) *HistoryStore {
	h := &HistoryStore{sessions: make(map[types.SessionID]*history)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns a copy of the session's turns, oldest first. Unknown sessions
// have no turns.
func (h *HistoryStore) Get(_ context.Context, id types.SessionID) []ConversationTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil
	}
	return slices.Clone(s.turns)
}

// Append adds a turn to the end of the session's history.
func (h *HistoryStore) Append(_ context.Context, id types.SessionID, turn ConversationTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	s, ok := h.sessions[id]
	if !ok {
		s = &history{created: now}
		h.sessions[id] = s
	}
	h.clock++
	s.touched = h.clock
	s.updated = now
	s.turns = append(s.turns, turn)

	if h.maxTurns > 0 && len(s.turns) > h.maxTurns {
		s.turns = slices.Delete(s.turns, 0, len(s.turns)-h.maxTurns)
	}
	if !ok && h.maxSessions > 0 {
		for len(h.sessions) > h.maxSessions {
			h.evictOldest()
		}
	}
}

// evictOldest drops the least recently updated session. Caller must hold mu.
func (h *HistoryStore) evictOldest() {
	var (
		victim types.SessionID
		oldest uint64
		found  bool
	)
	for id, s := range h.sessions {
		if !found || s.touched < oldest {
			victim, oldest, found = id, s.touched, true
		}
	}
	if found {
		delete(h.sessions, victim)
	}
}

// Reset removes the session. Unknown sessions are ignored.
func (h *HistoryStore) Reset(_ context.Context, id types.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, id)
}

// List returns all sessions, most recently updated first.
func (h *HistoryStore) List(_ context.Context) []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	type entry struct {
		info    SessionInfo
		touched uint64
	}
	entries := make([]entry, 0, len(h.sessions))
	for id, s := range h.sessions {
		entries = append(entries, entry{
			info: SessionInfo{
				SessionID: id,
				Turns:     len(s.turns),
				CreatedAt: s.created,
				UpdatedAt: s.updated,
			},
			touched: s.touched,
		})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if a.touched != b.touched {
			if a.touched > b.touched {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a.info.SessionID), string(b.info.SessionID))
	})

	infos := make([]SessionInfo, len(entries))
	for i, e := range entries {
		infos[i] = e.info
	}
	return infos
}
