// Package toolset unifies the tools exposed by multiple MCP servers into a
// single callable surface. Aggregation snapshots each server's tool list,
// normalizes heterogeneous input schemas once at ingestion, and records which
// server owns each name; invocation dispatches through the connection
// registry and reports structured outcomes instead of raising errors at the
// caller.
//
// Tool name collisions across servers resolve last-registration-wins in the
// iteration order of the selected server list. Callers aggregating
// overlapping servers accept that policy.
package toolset
