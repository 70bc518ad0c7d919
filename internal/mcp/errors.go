package mcp

import (
	"errors"
	"fmt"
)

// Kind is a short, machine-checkable failure class. Hosts switch on it to
// pick a user-facing message; logs carry it as the "kind" attribute.
type Kind string

// Failure kinds surfaced by the bridge.
const (
	// KindInvalidURL: the endpoint is malformed or has a templated host.
	// Raised before any network I/O.
	KindInvalidURL Kind = "invalid_url"

	// KindConnection: transport, handshake, auth or protocol failure
	// while opening a session. Every connect failure that is not
	// KindInvalidURL is reported as this kind.
	KindConnection Kind = "connection"

	// KindEmptyCatalog: the session connected but no tools remain after
	// selection. Only reported when the host asks for it.
	KindEmptyCatalog Kind = "empty_catalog"

	// KindInvocation: a single tool call failed.
	KindInvocation Kind = "invocation_error"

	// KindTimeout: a single tool call ran past its time budget.
	KindTimeout Kind = "invocation_timeout"

	// KindInvalidArguments: arguments were rejected by the tool's input
	// validator; the remote call was never issued.
	KindInvalidArguments Kind = "invalid_arguments"
)

// Host-facing messages for connect and catalog failures.
const (
	msgInvalidURL      = "Could not connect to your MCP server. The provided URL is invalid."
	msgPlaceholderHost = "Can't use a placeholder for the domain when using authentication"
	descPlaceholder    = "This is for security reasons, to prevent the model accidentally sending your credentials to an unauthorized domain"
	msgConnection      = "Could not connect to your MCP server"
	msgEmptyCatalog    = "MCP Server returned no tools"
	descEmptyCatalog   = "Connected successfully to your MCP server but it returned an empty list of tools."
)

// ConnectError is returned by Connect. Message and Description are
// suitable for showing to a user; Err carries the underlying cause.
type ConnectError struct {
	Kind        Kind
	Message     string
	Description string
	Err         error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error { return e.Err }

func invalidURL(msg, desc string, err error) *ConnectError {
	return &ConnectError{Kind: KindInvalidURL, Message: msg, Description: desc, Err: err}
}

func connectionFailed(err error) *ConnectError {
	return &ConnectError{Kind: KindConnection, Message: msgConnection, Err: err}
}

// BridgeError reports a catalog-level condition detected while building
// a tool set, such as an empty selection.
type BridgeError struct {
	Kind        Kind
	Message     string
	Description string
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// InvokeError is returned by a wrapped tool handler. Tool is the remote
// tool name, not any host-side alias.
type InvokeError struct {
	Kind    Kind
	Tool    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *InvokeError) Unwrap() error { return e.Err }

// KindOf reports the Kind carried by err or anything it wraps. Errors the
// bridge did not produce report the empty Kind.
func KindOf(err error) Kind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
