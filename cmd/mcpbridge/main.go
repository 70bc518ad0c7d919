// mcpbridge connects to a remote MCP server and exposes its tools the
// way an agent host would: filtered by the configured selection policy,
// validated against each tool's input schema, and bounded by a per-call
// timeout. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	mcpbridge init [dir]          Write an example config.yaml
//	mcpbridge tools               List the selected tools from the server
//	mcpbridge tools -cached       List tools from the local catalog cache
//	mcpbridge call <tool> [json]  Invoke one tool and print its output
//	mcpbridge version             Print version and build information
//	mcpbridge -o json tools       Output as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/mcpbridge/internal/buildinfo"
	"github.com/nugget/mcpbridge/internal/catalog"
	"github.com/nugget/mcpbridge/internal/config"
	"github.com/nugget/mcpbridge/internal/mcp"
	"github.com/nugget/mcpbridge/internal/tools"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run].
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "%s\n", userMessage(err))
		os.Exit(1)
	}
}

// run is the real entry point for the mcpbridge command. Command output
// goes to stdout and structured logs to stderr. Arguments are parsed by
// hand so run can be called concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "tools":
		cached := false
		for _, a := range cmdArgs {
			switch a {
			case "-cached", "--cached":
				cached = true
			default:
				return fmt.Errorf("usage: mcpbridge tools [-cached]")
			}
		}
		return runTools(ctx, stdout, stderr, configPath, outputFmt, cached)
	case "call":
		if len(cmdArgs) == 0 || len(cmdArgs) > 2 {
			return fmt.Errorf("usage: mcpbridge call <tool> [json-args]")
		}
		argsJSON := ""
		if len(cmdArgs) == 2 {
			argsJSON = cmdArgs[1]
		}
		return runCall(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0], argsJSON)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "mcpbridge - expose MCP server tools to an agent host")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mcpbridge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]              Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  tools [-cached]         List the selected tools (from the cache with -cached)")
	fmt.Fprintln(w, "  call <tool> [json]      Invoke a tool with JSON arguments and print the result")
	fmt.Fprintln(w, "  version                 Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runTools lists the selected part of the server's catalog. A live
// listing refreshes the catalog cache when one is configured; with
// cached set, the cache is read instead and no connection is made.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, cached bool) error {
	cfg, logger, err := setup(configPath, stderr)
	if err != nil {
		return err
	}
	policy, err := cfg.SelectionPolicy()
	if err != nil {
		return err
	}

	var store *catalog.Store
	if cfg.CachePath != "" {
		store, err = catalog.NewStore(cfg.CachePath)
		if err != nil {
			return fmt.Errorf("open catalog cache: %w", err)
		}
		defer store.Close()
	}

	var full []mcp.ToolDescriptor
	if cached {
		if store == nil {
			return errors.New("no catalog cache configured (set cache_path)")
		}
		entries, fetched, err := store.Get(cfg.Server.EndpointURL)
		if err != nil {
			return fmt.Errorf("read catalog cache: %w", err)
		}
		if entries == nil {
			return fmt.Errorf("no cached catalog for %s; run \"mcpbridge tools\" first", catalog.Key(cfg.Server.EndpointURL))
		}
		logger.Info("using cached catalog", "fetched", fetched.Format(time.RFC3339), "count", len(entries))
		full = catalog.Descriptors(entries)
	} else {
		session, err := connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer session.Close()

		full, err = session.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		if store != nil {
			if err := store.Put(cfg.Server.EndpointURL, catalog.FromDescriptors(full)); err != nil {
				logger.Warn("failed to update catalog cache", "error", err)
			}
		}
	}

	selected := mcp.Select(full, policy)
	switch mcp.Advise(len(selected)) {
	case mcp.AdviceTooMany:
		logger.Warn("too many tools selected, the agent is likely to misbehave", "selected", len(selected), "limit", mcp.HardToolLimit)
	case mcp.AdviceNarrow:
		logger.Warn("consider narrowing the tool selection", "selected", len(selected), "recommended_max", mcp.SoftToolLimit)
	}

	out := catalog.Options(catalog.FromDescriptors(selected), cfg.Tools.Prefix)

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	newToolTable(stdout).render(fmt.Sprintf("%d of %d tools selected (mode %s)", len(selected), len(full), policy.Mode), out)
	return nil
}

// runCall bridges the server into a tool registry and executes one
// tool through it, exactly as an agent host would.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, name, argsJSON string) error {
	cfg, logger, err := setup(configPath, stderr)
	if err != nil {
		return err
	}
	policy, err := cfg.SelectionPolicy()
	if err != nil {
		return err
	}

	session, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ts, err := mcp.Bridge(ctx, session, mcp.BridgeOptions{
		Policy:       policy,
		Timeout:      cfg.Timeout,
		Prefix:       cfg.Tools.Prefix,
		RequireTools: cfg.Tools.Require,
		Logger:       logger,
	})
	if err != nil {
		session.Close()
		return err
	}
	defer ts.Close()

	registry := tools.NewRegistry()
	ts.Register(registry)

	result, err := registry.Execute(ctx, name, argsJSON)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"tool": name, "result": result})
	}
	fmt.Fprintln(stdout, result)
	return nil
}

// setup loads configuration and builds the logger it asks for.
func setup(configPath string, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(stderr, level, cfg.LogFormat), nil
}

func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mcp.Session, error) {
	server, err := cfg.MCPServer()
	if err != nil {
		return nil, err
	}
	opts := []mcp.ConnectOption{mcp.WithLogger(logger)}
	if cfg.Server.InsecureSkipVerify {
		logger.Warn("TLS certificate verification disabled for MCP endpoint")
		opts = append(opts, mcp.WithInsecureTLS())
	}
	return mcp.Connect(ctx, server, mcp.DefaultIdentity(), opts...)
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// userMessage renders err for a person. Connect and catalog failures
// carry a prepared message and description; the underlying cause is
// already in the logs.
func userMessage(err error) string {
	var ce *mcp.ConnectError
	if errors.As(err, &ce) {
		return joinMessage(ce.Message, ce.Description)
	}
	var be *mcp.BridgeError
	if errors.As(err, &be) {
		return joinMessage(be.Message, be.Description)
	}
	return err.Error()
}

func joinMessage(msg, desc string) string {
	if desc == "" {
		return msg
	}
	return msg + ": " + desc
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
