package mcp

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeSession is a test double for the Session interface.
type fakeSession struct {
	mu      sync.Mutex
	catalog []ToolDescriptor
	listErr error

	// call, when set, answers CallTool; otherwise the tool name is echoed.
	call   func(ctx context.Context, name string, args map[string]any) (*ToolOutput, error)
	calls  map[string]int
	closes int
}

func newFakeSession(catalog ...ToolDescriptor) *fakeSession {
	return &fakeSession{catalog: catalog, calls: make(map[string]int)}
}

func (f *fakeSession) ListTools(context.Context) ([]ToolDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]ToolDescriptor(nil), f.catalog...), nil
}

func (f *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolOutput, error) {
	f.mu.Lock()
	f.calls[name]++
	call := f.call
	f.mu.Unlock()
	if call != nil {
		return call(ctx, name, args)
	}
	return &ToolOutput{Text: fmt.Sprintf("%s ok", name)}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		blocks []sdk.Content
		want   string
	}{
		{"empty", nil, ""},
		{"single text", []sdk.Content{&sdk.TextContent{Text: "hello"}}, "hello"},
		{
			name: "multiple text",
			blocks: []sdk.Content{
				&sdk.TextContent{Text: "line one"},
				&sdk.TextContent{Text: "line two"},
			},
			want: "line one\nline two",
		},
		{
			name: "mixed",
			blocks: []sdk.Content{
				&sdk.TextContent{Text: "caption"},
				&sdk.ImageContent{MIMEType: "image/png"},
				&sdk.AudioContent{MIMEType: "audio/wav"},
			},
			want: "caption\n[image]\n[audio]",
		},
		{
			name:   "resource link",
			blocks: []sdk.Content{&sdk.ResourceLink{URI: "file:///tmp/x", Name: "x"}},
			want:   "[resource]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(tt.blocks); got != tt.want {
				t.Errorf("extractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemaMap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if got := schemaMap(nil); got != nil {
			t.Errorf("schemaMap(nil) = %v, want nil", got)
		}
	})

	t.Run("map passes through", func(t *testing.T) {
		in := map[string]any{"type": "object"}
		got := schemaMap(in)
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
	})

	t.Run("struct round-trips", func(t *testing.T) {
		in := struct {
			Type     string   `json:"type"`
			Required []string `json:"required"`
		}{Type: "object", Required: []string{"q"}}
		got := schemaMap(in)
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
		req, ok := got["required"].([]any)
		if !ok || len(req) != 1 || req[0] != "q" {
			t.Errorf("required = %v, want [q]", got["required"])
		}
	})

	t.Run("non-object", func(t *testing.T) {
		if got := schemaMap("just a string"); got != nil {
			t.Errorf("schemaMap(string) = %v, want nil", got)
		}
	})
}
