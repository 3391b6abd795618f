// internal/state/transcript.go
package state

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/user/databridge/internal/types"
)

// TranscriptEntry is the on-disk record of one answered query.
type TranscriptEntry struct {
	Seq           int64            `json:"seq"`
	TurnID        types.TurnID     `json:"turn_id"`
	SessionID     types.SessionID  `json:"session_id"`
	Query         string           `json:"query"`
	Success       bool             `json:"success"`
	ErrorType     string           `json:"error_type,omitempty"`
	HasData       bool             `json:"has_data"`
	Summary       string           `json:"summary,omitempty"`
	Dataflows     int              `json:"dataflows"`
	Observations  int              `json:"observations"`
	Clarification string           `json:"clarification,omitempty"`
	ArtifactID    types.ArtifactID `json:"artifact_id,omitempty"`
	At            time.Time        `json:"at"`
}

// TranscriptStore is a JSONL-backed append-only log of conversation turns.
// Entries are stored per-session in sessions/<dir>/transcript.jsonl, where
// dir is the URL-safe base64 encoding of the session id.
type TranscriptStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewTranscriptStore creates a new file-backed TranscriptStore rooted at the given directory.
func NewTranscriptStore(root string) *TranscriptStore {
	return &TranscriptStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (t *TranscriptStore) getLock(sessionID types.SessionID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lock, ok := t.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.locks[sessionID] = lock
	return lock
}

func (t *TranscriptStore) sessionsDir() string {
	return filepath.Join(t.root, "sessions")
}

func (t *TranscriptStore) transcriptPath(sessionID types.SessionID) string {
	return filepath.Join(sessionDir(t.root, sessionID), "transcript.jsonl")
}

// sessionDir maps a session id onto a single safe path element.
func sessionDir(root string, sessionID types.SessionID) string {
	return filepath.Join(root, "sessions", base64.RawURLEncoding.EncodeToString([]byte(sessionID)))
}

// count reads the transcript file and counts lines. Caller must hold the session lock.
func (t *TranscriptStore) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(t.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan transcript: %w", err)
	}
	return count, nil
}

// Append adds an entry to the session's transcript with an auto-incremented sequence number.
func (t *TranscriptStore) Append(_ context.Context, entry *TranscriptEntry) error {
	lock := t.getLock(entry.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.transcriptPath(entry.SessionID)), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := t.count(entry.SessionID)
	if err != nil {
		return err
	}
	entry.Seq = existing + 1

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	f, err := os.OpenFile(t.transcriptPath(entry.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}

// Tail returns the last N entries for the given session. A limit of zero or
// less returns every entry.
func (t *TranscriptStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*TranscriptEntry, error) {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(t.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []*TranscriptEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry TranscriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal transcript entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Count returns the number of entries for the given session.
func (t *TranscriptStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return t.count(sessionID)
}

// List returns the ids of all sessions that have a transcript, sorted.
func (t *TranscriptStore) List(_ context.Context) ([]types.SessionID, error) {
	dirents, err := os.ReadDir(t.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var ids []types.SessionID
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(d.Name())
		if err != nil {
			continue
		}
		id := types.SessionID(raw)
		if _, err := os.Stat(t.transcriptPath(id)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Clear deletes the session's transcript and artifacts.
func (t *TranscriptStore) Clear(_ context.Context, sessionID types.SessionID) error {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(sessionDir(t.root, sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// ClearAll deletes every stored session.
func (t *TranscriptStore) ClearAll(ctx context.Context) error {
	ids, err := t.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := t.Clear(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
