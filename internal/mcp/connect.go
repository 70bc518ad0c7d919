package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/idna"

	"github.com/nugget/mcpbridge/internal/buildinfo"
	"github.com/nugget/mcpbridge/internal/httpkit"
)

// Transport names the wire strategy used to reach an MCP server.
type Transport string

const (
	// TransportSSE is the legacy HTTP+SSE transport: a long-lived GET
	// event stream for server messages and POSTs for client messages.
	TransportSSE Transport = "sse"

	// TransportHTTPStreamable is the streamable HTTP transport: every
	// request is a POST whose response may be JSON or an event stream.
	TransportHTTPStreamable Transport = "httpStreamable"
)

// ParseTransport converts a configuration string to a Transport. The
// empty string selects streamable HTTP.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "httpstreamable", "http", "streamable":
		return TransportHTTPStreamable, nil
	case "sse":
		return TransportSSE, nil
	default:
		return "", fmt.Errorf("unknown MCP transport %q (valid: sse, httpStreamable)", s)
	}
}

// ServerConfig describes one MCP endpoint. It is built once per connect
// attempt and is not modified by Connect.
type ServerConfig struct {
	// EndpointURL is the absolute http(s) URL of the MCP endpoint.
	EndpointURL string

	// Transport selects the wire strategy.
	Transport Transport

	// Headers are sent with every request, typically from AuthHeaders.
	Headers map[string]string
}

// ClientIdentity is advertised to the server during the handshake.
type ClientIdentity struct {
	Name    string
	Version string
}

// DefaultIdentity is used when Connect is given a zero ClientIdentity.
func DefaultIdentity() ClientIdentity {
	return ClientIdentity{Name: "mcpbridge", Version: buildinfo.Version}
}

// ConnectOption adjusts how Connect builds its HTTP plumbing.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	httpClient *http.Client
	insecure   bool
	logger     *slog.Logger
}

// WithHTTPClient makes Connect use c as the base HTTP client. Server
// headers are still attached by wrapping c's transport; c itself is not
// modified.
func WithHTTPClient(c *http.Client) ConnectOption {
	return func(o *connectOptions) { o.httpClient = c }
}

// WithInsecureTLS disables certificate verification for the endpoint.
// Ignored when WithHTTPClient is also given.
func WithInsecureTLS() ConnectOption {
	return func(o *connectOptions) { o.insecure = true }
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l *slog.Logger) ConnectOption {
	return func(o *connectOptions) { o.logger = l }
}

// Connect validates cfg, opens exactly one session to the server, and
// completes the MCP handshake. Errors are always *ConnectError: an
// endpoint problem is reported as KindInvalidURL without touching the
// network, and everything else as KindConnection. Connect does not
// retry.
//
// The returned Session belongs to the caller, who must Close it.
func Connect(ctx context.Context, cfg ServerConfig, id ClientIdentity, opts ...ConnectOption) (Session, error) {
	o := &connectOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := ValidateEndpoint(cfg.EndpointURL)
	if err != nil {
		logger.Error("rejected MCP endpoint", "error", err)
		return nil, err
	}
	logger = logger.With("mcp_endpoint", endpoint.Host, "transport", string(cfg.Transport))

	if id.Name == "" {
		id = DefaultIdentity()
	}

	httpClient := newHTTPClient(cfg.Headers, id, o)

	var transport sdk.Transport
	switch cfg.Transport {
	case TransportSSE:
		transport = &sdk.SSEClientTransport{
			Endpoint:   endpoint.String(),
			HTTPClient: httpClient,
		}
	case TransportHTTPStreamable, "":
		transport = &sdk.StreamableClientTransport{
			Endpoint:   endpoint.String(),
			HTTPClient: httpClient,
			// Negative disables the SDK's stream reconnects.
			MaxRetries: -1,
		}
	default:
		return nil, connectionFailed(fmt.Errorf("unsupported transport %q", cfg.Transport))
	}

	logger.Debug("connecting to MCP server")

	client := sdk.NewClient(&sdk.Implementation{Name: id.Name, Version: id.Version}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		httpClient.CloseIdleConnections()
		logger.Error("MCP connection failed", "error", err)
		return nil, connectionFailed(err)
	}

	attrs := []any{}
	if res := cs.InitializeResult(); res != nil {
		attrs = append(attrs, "protocol_version", res.ProtocolVersion)
		if res.ServerInfo != nil {
			attrs = append(attrs, "server_name", res.ServerInfo.Name, "server_version", res.ServerInfo.Version)
		}
	}
	logger.Info("MCP server connected", attrs...)

	return newSDKSession(cs, httpClient, logger), nil
}

// ValidateEndpoint checks that raw is an absolute http(s) URL whose host
// is concrete. A host still carrying a template placeholder such as
// "{env}" is refused so credentials can never be sent to a domain chosen
// at run time. Errors are *ConnectError with KindInvalidURL.
func ValidateEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidURL(msgInvalidURL, "", fmt.Errorf("endpoint URL is empty"))
	}

	// The placeholder check runs on the raw authority because url.Parse
	// rejects braces in hosts with a less useful message.
	if host := rawAuthority(raw); hasPlaceholder(host) {
		return nil, invalidURL(msgPlaceholderHost, descPlaceholder, fmt.Errorf("templated host %q", host))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalidURL(msgInvalidURL, "", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, invalidURL(msgInvalidURL, "", fmt.Errorf("endpoint URL %q is not absolute", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalidURL(msgInvalidURL, "", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return nil, invalidURL(msgInvalidURL, "", fmt.Errorf("endpoint URL %q has no host", raw))
	}
	if net.ParseIP(host) == nil {
		if _, err := idna.Lookup.ToASCII(host); err != nil {
			return nil, invalidURL(msgInvalidURL, "", fmt.Errorf("host %q: %w", host, err))
		}
	}

	return u, nil
}

// rawAuthority returns the text between "://" and the next path, query
// or fragment delimiter, without userinfo.
func rawAuthority(raw string) string {
	i := strings.Index(raw, "://")
	if i < 0 {
		return ""
	}
	rest := raw[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return rest
}

func hasPlaceholder(host string) bool {
	if h, err := url.PathUnescape(host); err == nil {
		host = h
	}
	return strings.Contains(host, "{") && strings.Contains(host, "}")
}

// userAgent names the embedding host ahead of the bridge itself when
// Connect is given an identity other than the default.
func userAgent(id ClientIdentity) string {
	ua := buildinfo.UserAgent()
	if id.Name == "" || id == DefaultIdentity() {
		return ua
	}
	if id.Version != "" {
		return id.Name + "/" + id.Version + " " + ua
	}
	return id.Name + " " + ua
}

func newHTTPClient(headers map[string]string, id ClientIdentity, o *connectOptions) *http.Client {
	if o.httpClient != nil {
		c := *o.httpClient
		c.Transport = httpkit.HeaderTransport(c.Transport, headers)
		return &c
	}

	// Session streams stay open and a slow tool may delay response
	// headers; per-call budgets come from contexts instead.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 0

	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
		httpkit.WithHeaders(headers),
		httpkit.WithUserAgent(userAgent(id)),
	}
	if o.insecure {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return httpkit.NewClient(opts...)
}
