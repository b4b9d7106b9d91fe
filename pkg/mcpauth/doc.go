// Package mcpauth implements the OAuth 2.1 authorization flow used to
// authenticate connections to protected MCP servers. It discovers the
// authorization server through the resource's protected-resource metadata
// (RFC 9728), negotiates a client registration strategy (dynamic
// registration, a client ID metadata document, or a pre-registered client),
// performs the PKCE authorization-code exchange, and keeps the resulting
// tokens fresh for the lifetime of the session.
//
// A Session is owned by exactly one connection. Transports read the current
// access token through Session.Token; only the flow engine mutates session
// state. Callers embedding the engine in a non-interactive context construct
// the session with pre-obtained tokens (programmatic mode), in which case only
// discovery and refresh are ever performed.
package mcpauth
