// Package evals runs scripted evaluations against live MCP servers.
//
// An evaluation drives an externally supplied agent with a prompt and the
// aggregated tool surface of one or more servers, captures the tool calls the
// agent issued, and grades them against the expectations declared in an
// EvalTestSpec. The grading itself is a pure function (Match); the Runner
// supplies the plumbing around it:
//
//   - per-test server subset resolution and concurrent connection setup
//   - tool aggregation through a toolset over a private connection registry
//   - per-test timeouts, retries, and batch-level concurrency limits
//   - unconditional teardown so connections never leak across tests
//
// Model invocation is deliberately outside this package: callers implement
// Agent however they like (an LLM provider, a subprocess, a scripted fake in
// tests) and the runner only observes the tool calls it reports.
package evals
