// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultSessionID is used when a caller does not name a conversation.
const DefaultSessionID SessionID = "default"

type SessionID string
type TurnID string
type RunID string
type ArtifactID string

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// NewSessionKey joins parts into a namespaced session id, e.g. "telegram:1:2".
func NewSessionKey(parts ...string) SessionID {
	return SessionID(strings.Join(parts, ":"))
}

// OrDefault returns id, or DefaultSessionID when id is blank.
func (id SessionID) OrDefault() SessionID {
	if strings.TrimSpace(string(id)) == "" {
		return DefaultSessionID
	}
	return id
}
