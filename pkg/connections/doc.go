// Package connections maintains concurrent, independently-lifecycled client
// sessions to multiple Model Context Protocol (MCP) servers. It negotiates
// the transport per server (stdio spawn, or streamable HTTP with an SSE
// fallback), attaches OAuth credentials when configured, tracks each
// connection through an explicit state machine, and fans server-pushed
// notifications out to registered listeners.
//
// Core entry points:
//   - Registry: owns the set of named connections; Connect, Disconnect,
//     Reconnect, ListServers, and the per-server RPC helpers (ListTools,
//     CallTool, ReadResource, ...).
//   - Dispatcher: per-registry notification fan-out with idempotent handler
//     registration and panic isolation.
//   - ServerConfig: tagged union describing how to reach one server
//     (StdioServerConfig or HTTPServerConfig).
package connections
