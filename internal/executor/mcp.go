// Package executor calls the remote workflow backend over MCP.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/user/databridge/internal/types"
)

const (
	// DefaultURL is the MCP gateway address used when none is configured.
	DefaultURL = "http://localhost:8811/mcp"
	// DefaultTool is the workflow tool invoked for every request.
	DefaultTool = "plan_and_execute_workflow"

	clientName     = "databridge"
	clientVersion  = "1.0.0"
	initTimeout    = 30 * time.Second
	userRequestArg = "user_request"
)

// Option configures an MCPExecutor.
type Option func(*MCPExecutor)

// WithTool overrides the tool name. An empty name keeps the default.
func WithTool(name string) Option {
	return func(e *MCPExecutor) {
		if name != "" {
			e.tool = name
		}
	}
}

// WithHeaders adds HTTP headers, such as Authorization, to every request.
func WithHeaders(headers map[string]string) Option {
	return func(e *MCPExecutor) { e.headers = headers }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *MCPExecutor) { e.logger = logger }
}

// MCPExecutor runs requests through a streamable-HTTP MCP server. The
// connection is opened on first use and reopened after transport failures.
type MCPExecutor struct {
	url     string
	tool    string
	headers map[string]string
	logger  *slog.Logger

	mu     sync.Mutex
	client *client.Client
	closed bool
}

var _ types.Executor = (*MCPExecutor)(nil)

// NewMCPExecutor creates an executor for the server at url.
func NewMCPExecutor(url string, opts ...Option) *MCPExecutor {
	if url == "" {
		url = DefaultURL
	}
	e := &MCPExecutor{
		url:    url,
		tool:   DefaultTool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends userRequest to the workflow tool and decodes its result.
func (e *MCPExecutor) Execute(ctx context.Context, userRequest string) (*types.ExecutionResult, error) {
	c, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      e.tool,
			Arguments: map[string]any{userRequestArg: userRequest},
		},
	})
	if err != nil {
		kind := classify(ctx, err, KindProtocol)
		if kind == KindTransport {
			e.drop(c)
		}
		return nil, &Error{Kind: kind, Op: "call_tool", Err: err}
	}

	if res == nil {
		return nil, &Error{Kind: KindDecode, Op: "decode_result", Err: ErrNoContent}
	}
	text, ok := firstText(res)
	if res.IsError {
		if !ok || text == "" {
			text = "tool reported an error"
		}
		return nil, &Error{Kind: KindTool, Op: "call_tool", Err: errors.New(text)}
	}
	if !ok {
		return nil, &Error{Kind: KindDecode, Op: "decode_result", Err: ErrNoContent}
	}

	var result types.ExecutionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &Error{Kind: KindDecode, Op: "decode_result", Err: err}
	}
	return &result, nil
}

// connect returns the live client, creating and initializing one if needed.
func (e *MCPExecutor) connect(ctx context.Context) (*client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &Error{Kind: KindTransport, Op: "connect", Err: ErrClosed}
	}
	if e.client != nil {
		return e.client, nil
	}

	var opts []transport.StreamableHTTPCOption
	if len(e.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(e.headers))
	}
	c, err := client.NewStreamableHttpClient(e.url, opts...)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "connect", Err: err}
	}
	// The client outlives this request.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		c.Close()
		return nil, &Error{Kind: classify(ctx, err, KindTransport), Op: "start", Err: err}
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	_, err = c.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, &Error{Kind: classify(initCtx, err, KindTransport), Op: "initialize", Err: err}
	}

	e.logger.Debug("mcp connected", "url", e.url, "tool", e.tool)
	e.client = c
	return c, nil
}

// drop closes c if it is still the live client, so the next call reconnects.
func (e *MCPExecutor) drop(c *client.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == c {
		e.logger.Warn("mcp connection dropped", "url", e.url)
		e.client.Close()
		e.client = nil
	}
}

// Close releases the connection. Execute fails afterwards.
func (e *MCPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	if err != nil {
		return fmt.Errorf("close mcp client: %w", err)
	}
	return nil
}

// firstText returns the text of the first content block, if it is text.
func firstText(res *mcp.CallToolResult) (string, bool) {
	if res == nil || len(res.Content) == 0 {
		return "", false
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return strings.TrimSpace(c.Text), true
	case *mcp.TextContent:
		return strings.TrimSpace(c.Text), true
	}
	return "", false
}
