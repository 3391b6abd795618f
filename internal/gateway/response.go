package gateway

import (
	"github.com/user/databridge/internal/clarify"
	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/types"
)

// Query is one user utterance addressed to a session.
type Query struct {
	UserRequest string
	SessionID   types.SessionID
	// UseContext prefixes the request with the session's previous query.
	UseContext bool
}

// Response is the answer to a Query.
type Response struct {
	Success        bool                   `json:"success"`
	OriginalResult *types.ExecutionResult `json:"original_result"`
	ExtractedData  extract.ExtractedData  `json:"extracted_data"`
	Clarification  *clarify.Clarification `json:"clarification"`
	ConversationID types.SessionID        `json:"conversation_id"`
}
