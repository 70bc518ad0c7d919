package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nugget/mcpbridge/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// descriptionLogLimit caps tool descriptions in catalog log lines.
const descriptionLogLimit = 80

// BridgeOptions controls how Bridge turns a catalog into host tools.
type BridgeOptions struct {
	// Policy selects which catalog entries become tools.
	Policy SelectionPolicy

	// Timeout is the per-call budget. Zero means DefaultCallTimeout.
	Timeout time.Duration

	// Prefix, when set, renames every tool to "mcp_{prefix}_{tool}" so
	// several servers can share one registry. Calls still use the
	// remote name.
	Prefix string

	// RequireTools makes an empty selection a KindEmptyCatalog error.
	// When false an empty Toolset is returned without error.
	RequireTools bool

	// OnError is notified of every failed call, after it is logged.
	OnError func(tool, message string)

	Logger *slog.Logger
}

// Toolset is the result of Bridge: host tools backed by one session.
type Toolset struct {
	Tools []*tools.Tool

	session   Session
	closeOnce sync.Once
	closeErr  error
}

// Close releases the underlying session. Only the first call does any
// work; later calls return the first call's result.
func (ts *Toolset) Close() error {
	ts.closeOnce.Do(func() {
		if ts.session != nil {
			ts.closeErr = ts.session.Close()
		}
	})
	return ts.closeErr
}

// Register adds every tool in the set to registry.
func (ts *Toolset) Register(registry *tools.Registry) {
	for _, t := range ts.Tools {
		registry.Register(t)
	}
}

// Names returns the host-side tool names in catalog order.
func (ts *Toolset) Names() []string {
	names := make([]string, len(ts.Tools))
	for i, t := range ts.Tools {
		names[i] = t.Name
	}
	return names
}

// Bridge lists the session's catalog, applies opts.Policy, and wraps each
// selected tool as a validated, time-bounded, logged host tool. The
// returned Toolset owns session: closing the Toolset closes it.
//
// If listing fails, or the selection is empty and opts.RequireTools is
// set, Bridge returns an error and the session remains the caller's to
// close.
func Bridge(ctx context.Context, session Session, opts BridgeOptions) (*Toolset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := session.ListTools(ctx)
	if err != nil {
		logger.Error("failed to list MCP tools", "error", err)
		return nil, fmt.Errorf("list tools: %w", err)
	}

	for _, td := range catalog {
		logger.Debug("MCP tool available",
			"mcp_name", td.Name,
			"description", truncate(td.Description, descriptionLogLimit),
		)
	}
	if dups := duplicateNames(catalog); len(dups) > 0 {
		logger.Warn("MCP server lists duplicate tool names, keeping first of each", "names", dups)
	}

	selected := Select(catalog, opts.Policy)
	logger.Info("MCP tools selected",
		"mode", string(opts.Policy.Mode),
		"available", len(catalog),
		"selected", len(selected),
	)
	switch Advise(len(selected)) {
	case AdviceTooMany:
		logger.Warn("too many MCP tools selected, the agent is likely to misbehave",
			"selected", len(selected), "limit", HardToolLimit)
	case AdviceNarrow:
		logger.Warn("consider narrowing the MCP tool selection",
			"selected", len(selected), "recommended_max", SoftToolLimit)
	}

	if len(selected) == 0 && opts.RequireTools {
		logger.Error("no MCP tools to expose", "available", len(catalog))
		return nil, &BridgeError{Kind: KindEmptyCatalog, Message: msgEmptyCatalog, Description: descEmptyCatalog}
	}

	ts := &Toolset{session: session, Tools: make([]*tools.Tool, 0, len(selected))}
	for _, td := range selected {
		ts.Tools = append(ts.Tools, bridgeTool(session, td, opts, logger))
	}
	return ts, nil
}

// bridgeTool creates a host tool that proxies calls to the MCP server.
func bridgeTool(session Session, td ToolDescriptor, opts BridgeOptions, logger *slog.Logger) *tools.Tool {
	// Capture the original MCP tool name for the call.
	mcpName := td.Name
	name := mcpName
	if opts.Prefix != "" {
		name = ToolName(opts.Prefix, mcpName)
	}

	validate := Compile(td.InputSchema)

	var onError func(string)
	if opts.OnError != nil {
		onError = func(msg string) { opts.OnError(name, msg) }
	}

	handler := WithLogging(name,
		Validated(mcpName, validate, NewCaller(session, mcpName, opts.Timeout)),
		onError,
		logger,
	)

	params := td.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  params,
		Validate: func(args map[string]any) error {
			if args == nil {
				args = map[string]any{}
			}
			return validate(args)
		},
		Handler: handler,
	}
}

// ToolName generates a namespaced tool name from a server prefix and an
// MCP tool name. Both components are sanitized to contain only
// lowercase alphanumeric characters and underscores.
func ToolName(prefix, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(prefix), sanitize(mcpToolName))
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
