package evals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/and1can/inspector-sub014/pkg/connections"
	"github.com/and1can/inspector-sub014/pkg/toolset"
)

// RunnerOptions tunes batch execution.
type RunnerOptions struct {
	// TestTimeout bounds one attempt of one test, connection setup included.
	// Defaults to 2 minutes.
	TestTimeout time.Duration

	// MaxRetries re-executes a failed test from scratch, reconnection
	// included, up to this many additional attempts. Zero disables retries.
	MaxRetries uint64

	// Concurrency caps how many tests run at once. Defaults to 1, which also
	// yields a deterministic result order against a deterministic agent.
	Concurrency int

	// ClientName identifies the runner to servers during the MCP handshake.
	ClientName string

	// Logger receives per-test diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *RunnerOptions) normalized() RunnerOptions {
	var opts RunnerOptions
	if o != nil {
		opts = *o
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 2 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ClientName == "" {
		opts.ClientName = "evals-runner"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Runner executes batches of eval tests against an environment.
type Runner struct {
	agent  Agent
	env    *Environment
	opts   RunnerOptions
	logger *slog.Logger
}

// NewRunner builds a runner over the given agent and environment.
func NewRunner(agent Agent, env *Environment, opts *RunnerOptions) *Runner {
	options := opts.normalized()
	return &Runner{
		agent:  agent,
		env:    env,
		opts:   options,
		logger: options.Logger,
	}
}

// RunTests executes every spec and aggregates the verdicts. One test's
// failure never aborts the batch; results arrive in spec order regardless of
// the concurrency limit.
func (r *Runner) RunTests(ctx context.Context, specs []EvalTestSpec) *TestRunResults {
	start := time.Now()
	results := make([]TestResult, len(specs))

	var group errgroup.Group
	group.SetLimit(r.opts.Concurrency)
	for i := range specs {
		i := i
		group.Go(func() error {
			results[i] = r.runTest(ctx, specs[i])
			return nil
		})
	}
	_ = group.Wait()

	run := &TestRunResults{
		RunID:    uuid.NewString(),
		Results:  results,
		Duration: time.Since(start),
	}
	for _, result := range results {
		if result.Passed {
			run.Passed++
		} else {
			run.Failed++
		}
	}
	return run
}

// runTest validates a spec and drives its attempts. All validation happens
// before any network activity.
func (r *Runner) runTest(ctx context.Context, spec EvalTestSpec) TestResult {
	start := time.Now()
	finish := func(result TestResult) TestResult {
		result.Duration = time.Since(start)
		return result
	}

	if err := spec.validate(); err != nil {
		return finish(TestResult{TestID: spec.ID, Title: spec.Title, Error: err.Error()})
	}
	servers, err := r.resolveServers(spec)
	if err != nil {
		return finish(TestResult{TestID: spec.ID, Title: spec.Title, Error: err.Error()})
	}

	var result TestResult
	attempt := 0
	run := func() error {
		attempt++
		result = r.runAttempt(ctx, spec, servers)
		if result.Passed {
			return nil
		}
		r.logger.Debug("eval attempt failed",
			"test", spec.ID, "attempt", attempt, "error", result.Error)
		return errors.New("attempt failed")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.opts.MaxRetries), ctx)
	_ = backoff.Retry(run, policy)

	return finish(result)
}

// resolveServers narrows the environment to the spec's selection. The
// returned order is deterministic.
func (r *Runner) resolveServers(spec EvalTestSpec) ([]string, error) {
	if r.env == nil || len(r.env.Servers) == 0 {
		return nil, &ValidationError{Field: "environment", Reason: "no servers configured"}
	}
	if len(spec.SelectedServers) > 0 {
		for _, name := range spec.SelectedServers {
			if _, ok := r.env.Servers[name]; !ok {
				return nil, &ValidationError{
					Field:  "selectedServers",
					Reason: fmt.Sprintf("server %q is not in the environment", name),
				}
			}
		}
		return spec.SelectedServers, nil
	}
	names := make([]string, 0, len(r.env.Servers))
	for name := range r.env.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// runAttempt executes one full attempt: connect, aggregate, drive the agent,
// grade. The attempt's registry is private to it and always torn down.
func (r *Runner) runAttempt(ctx context.Context, spec EvalTestSpec, servers []string) TestResult {
	result := TestResult{TestID: spec.ID, Title: spec.Title}

	ctx, cancel := context.WithTimeout(ctx, r.opts.TestTimeout)
	defer cancel()

	cfg := make(map[string]connections.ServerConfig, len(servers))
	for _, name := range servers {
		cfg[name] = r.env.Servers[name]
	}
	registry := connections.NewRegistry(cfg, &connections.Options{
		ClientName: r.opts.ClientName,
		Logger:     r.logger,
	})
	defer func() {
		// Teardown must survive attempt timeout expiry.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		if err := registry.DisconnectAll(cleanupCtx); err != nil {
			r.logger.Warn("eval cleanup failed", "test", spec.ID, "error", err)
		}
	}()

	// All servers connect concurrently. A failure is named after its server
	// and fails this test alone; the rest still settle so teardown sees them.
	var group errgroup.Group
	for _, name := range servers {
		name := name
		group.Go(func() error {
			if _, err := registry.Connect(ctx, name, nil); err != nil {
				return &ServerConnectionError{Server: name, Err: err}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		result.Error = err.Error()
		return result
	}

	tools := toolset.New(registry, &toolset.Options{Logger: r.logger})
	if err := tools.Refresh(ctx, servers...); err != nil {
		result.Error = err.Error()
		return result
	}

	agentResult, err := r.agent.Run(ctx, AgentRequest{
		Prompt: spec.Prompt,
		Model:  spec.Model,
		Tools:  tools.Tools(),
	})
	if err != nil {
		result.Error = ClassifyModelError(err).Error()
		return result
	}

	for _, call := range agentResult.ToolCalls {
		result.CalledTools = append(result.CalledTools, call.ToolName)
	}

	// Expected tools are names only here; Match's argument grading stays
	// available to direct callers.
	expected := make([]ToolCall, 0, len(spec.ExpectedTools))
	for _, name := range spec.ExpectedTools {
		expected = append(expected, ToolCall{ToolName: name})
	}
	report := Match(expected, agentResult.ToolCalls, spec.Negative)
	result.Passed = report.Passed
	for _, call := range report.Missing {
		result.MissingTools = append(result.MissingTools, call.ToolName)
	}
	for _, call := range report.Unexpected {
		result.UnexpectedTools = append(result.UnexpectedTools, call.ToolName)
	}
	return result
}
