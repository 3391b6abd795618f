// internal/transport/querydto/dto.go
package querydto

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/types"
)

// Fixed messages returned to clients.
const (
	MsgInvalidJSON    = "Invalid JSON"
	MsgMissingRequest = "Missing user_request"
	MsgNotFound       = "Not Found"
	MsgReset          = "Conversation reset"
)

// CORS headers attached to every response.
var CORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type",
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	UserRequest string          `json:"user_request"`
	SessionID   string          `json:"session_id,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// UseContext reports whether context.use_context is set to a truthy value.
func (r QueryRequest) UseContext() bool {
	if len(r.Context) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Context, &fields); err != nil {
		return false
	}
	return types.Truthy(fields["use_context"])
}

// Query converts the request into a gateway query.
func (r QueryRequest) Query() gateway.Query {
	return gateway.Query{
		UserRequest: r.UserRequest,
		SessionID:   types.SessionID(r.SessionID).OrDefault(),
		UseContext:  r.UseContext(),
	}
}

// ResetRequest is the body of POST /reset.
type ResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// ResetResponse acknowledges a reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// DecodeQuery parses a /query body. On failure it returns the status and
// body to send back.
func DecodeQuery(body []byte) (gateway.Query, int, *ErrorResponse) {
	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return gateway.Query{}, http.StatusBadRequest, &ErrorResponse{Error: MsgInvalidJSON}
	}
	if req.UserRequest == "" {
		return gateway.Query{}, http.StatusBadRequest, &ErrorResponse{Error: MsgMissingRequest}
	}
	return req.Query(), http.StatusOK, nil
}

// DecodeReset parses a /reset body. An empty or malformed body resets the
// default session.
func DecodeReset(body []byte) types.SessionID {
	var req ResetRequest
	if len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	return types.SessionID(req.SessionID).OrDefault()
}

// ErrorStatus maps a gateway error to an HTTP status and body.
func ErrorStatus(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: MsgMissingRequest}
	case errors.Is(err, types.ErrTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Type: types.ErrorKind(err)}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Type: types.ErrorKind(err)}
}
