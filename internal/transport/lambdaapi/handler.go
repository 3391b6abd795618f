// internal/transport/lambdaapi/handler.go
package lambdaapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/transport/querydto"
	"github.com/user/databridge/internal/types"
)

// Service answers queries and resets. *gateway.Gateway implements it.
type Service interface {
	HandleQuery(ctx context.Context, q gateway.Query) (*gateway.Response, error)
	HandleReset(ctx context.Context, id types.SessionID)
}

// Handler serves the bridge behind an API Gateway HTTP API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Handle routes on the request's method and path.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(req.RequestContext.HTTP.Method)
	path := req.RawPath
	if path == "" {
		path = req.RequestContext.HTTP.Path
	}

	switch {
	case method == http.MethodOptions:
		return emptyResp(http.StatusOK), nil
	case method == http.MethodGet && path == "/health":
		return jsonResp(http.StatusOK, map[string]string{"status": "ok"}), nil
	case method == http.MethodPost && path == "/query":
		return h.query(ctx, req), nil
	case method == http.MethodPost && path == "/reset":
		return h.reset(ctx, req), nil
	}
	return jsonResp(http.StatusNotFound, querydto.ErrorResponse{Error: querydto.MsgNotFound}), nil
}

func (h *Handler) query(ctx context.Context, req events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, querydto.ErrorResponse{Error: querydto.MsgInvalidJSON})
	}
	q, status, errResp := querydto.DecodeQuery(body)
	if errResp != nil {
		return jsonResp(status, errResp)
	}

	resp, err := h.svc.HandleQuery(ctx, q)
	if err != nil {
		status, errResp := querydto.ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("query failed", "session_id", string(q.SessionID), "error", err)
		}
		return jsonResp(status, errResp)
	}
	return jsonResp(http.StatusOK, resp)
}

func (h *Handler) reset(ctx context.Context, req events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	body, _ := readBody(req)
	h.svc.HandleReset(ctx, querydto.DecodeReset(body))
	return jsonResp(http.StatusOK, querydto.ResetResponse{Success: true, Message: querydto.MsgReset})
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func headers() map[string]string {
	h := map[string]string{"content-type": "application/json"}
	for k, v := range querydto.CORSHeaders {
		h[k] = v
	}
	return h
}

func emptyResp(status int) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{StatusCode: status, Headers: headers()}
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.MarshalIndent(body, "", "  ")
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    headers(),
		Body:       string(b),
	}
}
