// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/databridge/internal/types"
)

// ArtifactMeta describes a stored artifact.
type ArtifactMeta struct {
	ID        types.ArtifactID `json:"id"`
	SessionID types.SessionID  `json:"session_id"`
	TurnID    types.TurnID     `json:"turn_id"`
	Kind      string           `json:"kind"`
	Size      int              `json:"size"`
	CreatedAt time.Time        `json:"created_at"`
}

// ArtifactKindResult marks an artifact holding a raw execution result.
const ArtifactKindResult = "execution_result"

// artifactWrapper is the on-disk format: {"meta": ..., "data": ...}.
type artifactWrapper struct {
	Meta *ArtifactMeta   `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// ArtifactStore stores one JSON file per artifact under the owning session's
// directory, at sessions/<dir>/artifacts/<artifactID>.json.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a new file-backed ArtifactStore rooted at the given directory.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) artifactsDir(sessionID types.SessionID) string {
	return filepath.Join(sessionDir(a.root, sessionID), "artifacts")
}

// findArtifact locates an artifact file by ID across all sessions.
func (a *ArtifactStore) findArtifact(id types.ArtifactID) (string, error) {
	pattern := filepath.Join(a.root, "sessions", "*", "artifacts", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("artifact not found: %s", id)
	}
	return matches[0], nil
}

func (a *ArtifactStore) read(id types.ArtifactID) (*artifactWrapper, error) {
	path, err := a.findArtifact(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}

	var wrapper artifactWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &wrapper, nil
}

// Put stores data as an artifact of the given turn and returns its ID.
func (a *ArtifactStore) Put(_ context.Context, sessionID types.SessionID, turnID types.TurnID, kind string, data any) (types.ArtifactID, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal artifact data: %w", err)
	}

	id := types.NewArtifactID()
	wrapper := &artifactWrapper{
		Meta: &ArtifactMeta{
			ID:        id,
			SessionID: sessionID,
			TurnID:    turnID,
			Kind:      kind,
			Size:      len(raw),
			CreatedAt: time.Now(),
		},
		Data: raw,
	}
	content, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact wrapper: %w", err)
	}

	dir := a.artifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	// Atomic write via temp file + rename
	target := filepath.Join(dir, string(id)+".json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename temp artifact: %w", err)
	}
	return id, nil
}

// Get returns the raw data for the given artifact.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (json.RawMessage, error) {
	wrapper, err := a.read(id)
	if err != nil {
		return nil, err
	}
	return wrapper.Data, nil
}

// GetMeta returns the metadata for the given artifact.
func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*ArtifactMeta, error) {
	wrapper, err := a.read(id)
	if err != nil {
		return nil, err
	}
	return wrapper.Meta, nil
}
