package evals

import (
	"context"
	"fmt"
	"time"

	"github.com/and1can/inspector-sub014/pkg/toolset"
)

// ToolCall is one tool invocation issued by an agent, or one expectation a
// test declares. A nil Arguments map in an expectation matches any arguments.
type ToolCall struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ModelSpec names the model an agent should run the prompt with.
type ModelSpec struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// EvalTestSpec declares one evaluation: the prompt to pose, the tools the
// agent is expected to call, and which servers supply the tool surface.
type EvalTestSpec struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Prompt string    `json:"prompt"`
	Model  ModelSpec `json:"model"`

	// ExpectedTools lists the tool names the agent must call. Matching is
	// name-based; use Match directly for argument-level grading.
	ExpectedTools []string `json:"expectedTools"`

	// Negative inverts the expectation: the test passes only when the agent
	// calls no tools at all.
	Negative bool `json:"negative,omitempty"`

	// SelectedServers restricts the test to a subset of the environment's
	// servers. Empty means all of them.
	SelectedServers []string `json:"selectedServers,omitempty"`
}

func (s *EvalTestSpec) validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if s.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if s.Model.Provider == "" || s.Model.ID == "" {
		return &ValidationError{Field: "model", Reason: "provider and id are required"}
	}
	return nil
}

// AgentRequest is the input handed to an Agent for one test.
type AgentRequest struct {
	Prompt string
	Model  ModelSpec
	Tools  []toolset.Tool
}

// AgentResult reports what the agent did: every tool call it issued, in
// order, and its final text output.
type AgentResult struct {
	ToolCalls []ToolCall
	Text      string
}

// Agent produces tool calls from a prompt. Implementations invoke a model,
// shell out to a subprocess, or replay a script; the runner does not care.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) (*AgentResult, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, req AgentRequest) (*AgentResult, error)

func (f AgentFunc) Run(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	return f(ctx, req)
}

// TestResult is the verdict for one spec.
type TestResult struct {
	TestID          string        `json:"testId"`
	Title           string        `json:"title"`
	Passed          bool          `json:"passed"`
	CalledTools     []string      `json:"calledTools,omitempty"`
	MissingTools    []string      `json:"missingTools,omitempty"`
	UnexpectedTools []string      `json:"unexpectedTools,omitempty"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// TestRunResults aggregates a whole batch. Passed and Failed are derived
// from Results when the runner assembles the batch.
type TestRunResults struct {
	RunID    string        `json:"runId"`
	Results  []TestResult  `json:"results"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// ValidationError reports a malformed spec or environment, detected before
// any network activity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("evals: invalid %s: %s", e.Field, e.Reason)
}

// ServerConnectionError wraps a connection failure with the offending
// server's name so a failed test names the unreachable server.
type ServerConnectionError struct {
	Server string
	Err    error
}

func (e *ServerConnectionError) Error() string {
	return fmt.Sprintf("evals: connect %q: %v", e.Server, e.Err)
}

func (e *ServerConnectionError) Unwrap() error { return e.Err }
