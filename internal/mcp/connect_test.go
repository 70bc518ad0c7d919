package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/mcpbridge/internal/buildinfo"
)

// countingTransport records every request that reaches the network layer.
type countingTransport struct {
	n atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.n.Add(1)
	return nil, errors.New("network disabled in test")
}

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in      string
		want    Transport
		wantErr bool
	}{
		{"", TransportHTTPStreamable, false},
		{"httpStreamable", TransportHTTPStreamable, false},
		{"http", TransportHTTPStreamable, false},
		{"SSE", TransportSSE, false},
		{"stdio", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTransport(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTransport(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTransport(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantErr     bool
		placeholder bool
	}{
		{name: "https", url: "https://mcp.example.com/mcp"},
		{name: "http with port", url: "http://127.0.0.1:8080/sse"},
		{name: "idn host", url: "https://bücher.example/mcp"},
		{name: "empty", url: "", wantErr: true},
		{name: "relative", url: "/mcp", wantErr: true},
		{name: "no scheme", url: "mcp.example.com/mcp", wantErr: true},
		{name: "ftp", url: "ftp://mcp.example.com/mcp", wantErr: true},
		{name: "garbage", url: "https://exa mple.com", wantErr: true},
		{name: "placeholder host", url: "https://{tenant}.example.com/mcp", wantErr: true, placeholder: true},
		{name: "escaped placeholder", url: "https://%7Btenant%7D.example.com/mcp", wantErr: true, placeholder: true},
		{name: "placeholder behind userinfo", url: "https://user@{env}.example.com/mcp", wantErr: true, placeholder: true},
		{name: "placeholder in path is fine", url: "https://mcp.example.com/{tenant}/mcp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ValidateEndpoint(tt.url)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateEndpoint(%q) = %v", tt.url, err)
				}
				if u == nil {
					t.Fatal("nil URL without error")
				}
				return
			}

			var ce *ConnectError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConnectError", err)
			}
			if ce.Kind != KindInvalidURL {
				t.Errorf("Kind = %q, want %q", ce.Kind, KindInvalidURL)
			}
			wantMsg := msgInvalidURL
			if tt.placeholder {
				wantMsg = msgPlaceholderHost
			}
			if ce.Message != wantMsg {
				t.Errorf("Message = %q, want %q", ce.Message, wantMsg)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	base := buildinfo.UserAgent()
	tests := []struct {
		name string
		id   ClientIdentity
		want string
	}{
		{name: "zero", id: ClientIdentity{}, want: base},
		{name: "default", id: DefaultIdentity(), want: base},
		{name: "host", id: ClientIdentity{Name: "homebot", Version: "1.2.0"}, want: "homebot/1.2.0 " + base},
		{name: "host without version", id: ClientIdentity{Name: "homebot"}, want: "homebot " + base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userAgent(tt.id); got != tt.want {
				t.Errorf("userAgent(%+v) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewHTTPClient_SendsHostUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := newHTTPClient(nil, ClientIdentity{Name: "homebot", Version: "1.2.0"}, &connectOptions{})
	defer c.CloseIdleConnections()

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if got := <-agents; !strings.HasPrefix(got, "homebot/1.2.0 mcpbridge/") {
		t.Errorf("User-Agent = %q, want host identity ahead of mcpbridge", got)
	}
}

func TestConnect_InvalidURLMakesNoRequests(t *testing.T) {
	rt := &countingTransport{}
	client := &http.Client{Transport: rt}

	for _, raw := range []string{"https://{env}.example.com/mcp", "not a url", ""} {
		cfg := ServerConfig{
			EndpointURL: raw,
			Transport:   TransportHTTPStreamable,
			Headers:     AuthHeaders("BRN-1", "secret"),
		}
		_, err := Connect(context.Background(), cfg, ClientIdentity{}, WithHTTPClient(client), WithLogger(quietLogger()))
		if KindOf(err) != KindInvalidURL {
			t.Errorf("Connect(%q) kind = %q, want %q", raw, KindOf(err), KindInvalidURL)
		}
	}
	if n := rt.n.Load(); n != 0 {
		t.Errorf("%d requests reached the network", n)
	}
}

func TestConnect_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/mcp"
	srv.Close()

	for _, tr := range []Transport{TransportHTTPStreamable, TransportSSE} {
		t.Run(string(tr), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := Connect(ctx, ServerConfig{EndpointURL: url, Transport: tr}, ClientIdentity{}, WithLogger(quietLogger()))
			var ce *ConnectError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConnectError", err)
			}
			if ce.Kind != KindConnection || ce.Message != msgConnection {
				t.Errorf("got %q/%q, want %q/%q", ce.Kind, ce.Message, KindConnection, msgConnection)
			}
			if ce.Unwrap() == nil {
				t.Error("connection error has no cause")
			}
		})
	}
}

func TestConnect_UnknownTransport(t *testing.T) {
	rt := &countingTransport{}
	_, err := Connect(context.Background(),
		ServerConfig{EndpointURL: "https://mcp.example.com/mcp", Transport: "carrier-pigeon"},
		ClientIdentity{}, WithHTTPClient(&http.Client{Transport: rt}), WithLogger(quietLogger()))
	if KindOf(err) != KindConnection {
		t.Errorf("kind = %q, want %q", KindOf(err), KindConnection)
	}
	if rt.n.Load() != 0 {
		t.Error("unknown transport reached the network")
	}
}

// headerLog records the auth headers of every request the server sees.
type headerLog struct {
	mu      sync.Mutex
	auth    []string
	clients []string
}

func (h *headerLog) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.auth = append(h.auth, r.Header.Get(HeaderAuthorization))
		h.clients = append(h.clients, r.Header.Get(HeaderClientID))
		h.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (h *headerLog) check(t *testing.T, wantAuth, wantClient string) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.auth) == 0 {
		t.Fatal("server saw no requests")
	}
	for i := range h.auth {
		if h.auth[i] != wantAuth {
			t.Errorf("request %d Authorization = %q, want %q", i, h.auth[i], wantAuth)
		}
		if h.clients[i] != wantClient {
			t.Errorf("request %d Client-Id = %q, want %q", i, h.clients[i], wantClient)
		}
	}
}

func newTestServer() *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	server.AddTool(&sdk.Tool{
		Name:        "lookup",
		Description: "Look up a record",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
			"required":   []any{"q"},
		},
	}, func(_ context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		q, _ := args["q"].(string)
		if q == "missing" {
			return &sdk.CallToolResult{
				Content: []sdk.Content{&sdk.TextContent{Text: "no record for missing"}},
				IsError: true,
			}, nil
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: "record " + q}},
		}, nil
	})
	server.AddTool(&sdk.Tool{
		Name:        "ping",
		Description: "Health check",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "pong"}}}, nil
	})
	return server
}

func TestConnect_EndToEnd(t *testing.T) {
	server := newTestServer()
	getServer := func(*http.Request) *sdk.Server { return server }

	tests := []struct {
		transport Transport
		handler   http.Handler
	}{
		{TransportHTTPStreamable, sdk.NewStreamableHTTPHandler(getServer, nil)},
		{TransportSSE, sdk.NewSSEHandler(getServer, nil)},
	}

	for _, tt := range tests {
		t.Run(string(tt.transport), func(t *testing.T) {
			log := &headerLog{}
			srv := httptest.NewServer(log.wrap(tt.handler))
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			cfg := ServerConfig{
				EndpointURL: srv.URL,
				Transport:   tt.transport,
				Headers:     AuthHeaders("BRN-0001", "doku_key_test_abc"),
			}
			session, err := Connect(ctx, cfg, ClientIdentity{Name: "test-host", Version: "0.0.1"}, WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}

			ts, err := Bridge(ctx, session, BridgeOptions{
				Policy:       SelectionPolicy{Mode: ModeSelected, Include: []string{"lookup"}},
				RequireTools: true,
				Timeout:      5 * time.Second,
				Logger:       quietLogger(),
			})
			if err != nil {
				session.Close()
				t.Fatalf("Bridge: %v", err)
			}
			defer ts.Close()

			if got := ts.Names(); len(got) != 1 || got[0] != "lookup" {
				t.Fatalf("Names() = %v, want [lookup]", got)
			}
			lookup := ts.Tools[0]

			out, err := lookup.Handler(ctx, map[string]any{"q": "x"})
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			if out != "record x" {
				t.Errorf("out = %q, want %q", out, "record x")
			}

			_, err = lookup.Handler(ctx, map[string]any{"q": "missing"})
			if KindOf(err) != KindInvocation || !strings.Contains(err.Error(), "no record for missing") {
				t.Errorf("tool error = %v, want invocation error with remote text", err)
			}

			_, err = lookup.Handler(ctx, map[string]any{})
			if KindOf(err) != KindInvalidArguments {
				t.Errorf("invalid call kind = %q, want %q", KindOf(err), KindInvalidArguments)
			}

			log.check(t, "Basic ZG9rdV9rZXlfdGVzdF9hYmM6", "BRN-0001")

			if err := ts.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if err := ts.Close(); err != nil {
				t.Errorf("second Close: %v", err)
			}
		})
	}
}

func TestSDKSession_ListToolsInMemory(t *testing.T) {
	ctx := context.Background()
	server := newTestServer()
	clientT, serverT := sdk.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-host", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	session := newSDKSession(cs, nil, quietLogger())
	defer session.Close()

	catalog, err := session.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(catalog) != 2 {
		t.Fatalf("got %d tools, want 2", len(catalog))
	}
	byName := map[string]ToolDescriptor{}
	for _, td := range catalog {
		byName[td.Name] = td
	}
	lookup, ok := byName["lookup"]
	if !ok {
		t.Fatal("lookup missing from catalog")
	}
	if lookup.InputSchema["type"] != "object" {
		t.Errorf("InputSchema = %v", lookup.InputSchema)
	}

	out, err := session.CallTool(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out.Text != "pong" || out.IsError {
		t.Errorf("CallTool = %+v", out)
	}
}
