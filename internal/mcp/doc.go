// Package mcp exposes the tools of a remote MCP (Model Context Protocol)
// server as host tools an agent can call.
//
// The flow has four steps. Connect validates the endpoint and opens one
// session over either legacy SSE or streamable HTTP, using the official
// go-sdk for the protocol. Bridge lists the server's catalog, narrows it
// with a SelectionPolicy, and wraps each remaining tool. Every wrapped
// tool validates its arguments against the declared input schema, runs
// the remote call under its own time budget, and logs the outcome.
// Closing the resulting Toolset closes the session.
//
// Failures carry a Kind (see KindOf) so hosts can choose what to show.
// This package is client-side only; it never acts as an MCP server.
package mcp
