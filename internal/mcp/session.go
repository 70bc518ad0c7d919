package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is a live connection to one MCP server. It is shared by every
// tool bridged from it and must be safe for concurrent CallTool use.
// Close is idempotent.
type Session interface {
	// ListTools returns the server's full tool catalog. An empty catalog
	// is a valid, non-error result.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool by its remote name.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolOutput, error)

	// Close ends the session and releases its transport.
	Close() error
}

// ToolDescriptor is a tool as declared by the server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolOutput is the flattened result of a tools/call. Text joins all
// text content blocks; non-text blocks appear as inline markers such as
// "[image]". IsError reports a tool-level failure signalled by the server.
type ToolOutput struct {
	Text    string
	IsError bool
}

// sdkSession adapts a go-sdk client session to Session.
type sdkSession struct {
	cs         *sdk.ClientSession
	httpClient *http.Client
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSDKSession(cs *sdk.ClientSession, httpClient *http.Client, logger *slog.Logger) *sdkSession {
	return &sdkSession{cs: cs, httpClient: httpClient, logger: logger}
}

// ListTools walks every page of tools/list.
func (s *sdkSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	out := []ToolDescriptor{}
	params := &sdk.ListToolsParams{}
	seen := make(map[string]bool)

	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			out = append(out, ToolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" || seen[res.NextCursor] {
			break
		}
		seen[res.NextCursor] = true
		params.Cursor = res.NextCursor
	}

	s.logger.Debug("listed MCP tools", "count", len(out))
	return out, nil
}

// CallTool issues one tools/call request.
func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolOutput, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &ToolOutput{
		Text:    extractText(res.Content),
		IsError: res.IsError,
	}, nil
}

// Close closes the SDK session once and drops idle HTTP connections.
func (s *sdkSession) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing MCP session")
		s.closeErr = s.cs.Close()
		if s.httpClient != nil {
			s.httpClient.CloseIdleConnections()
		}
	})
	return s.closeErr
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []sdk.Content) string {
	var parts []string
	for _, b := range blocks {
		switch c := b.(type) {
		case *sdk.TextContent:
			parts = append(parts, c.Text)
		case *sdk.ImageContent:
			parts = append(parts, "[image]")
		case *sdk.AudioContent:
			parts = append(parts, "[audio]")
		case *sdk.EmbeddedResource, *sdk.ResourceLink:
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, "[content]")
		}
	}
	return strings.Join(parts, "\n")
}

// schemaMap normalizes whatever the SDK decoded for an input schema into
// a plain JSON object. Anything that does not round-trip to an object
// yields nil, which later compiles to an accept-any validator.
func schemaMap(v any) map[string]any {
	switch s := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
