// Command evals runs a batch of eval test specs against the MCP servers in
// an environment file and reports pass/fail per test.
//
// Model invocation stays external: --agent names a command that is run once
// per test with a JSON request on stdin (prompt, model, tool surface) and
// must print a JSON result (toolCalls, text) on stdout.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/and1can/inspector-sub014/pkg/evals"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		testsPath   string
		envPath     string
		agentCmd    []string
		timeout     time.Duration
		retries     uint64
		concurrency int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:           "evals",
		Short:         "Run eval tests against MCP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			specs, err := loadSpecs(testsPath)
			if err != nil {
				return err
			}
			env, err := evals.LoadEnvironment(envPath)
			if err != nil {
				return err
			}

			runner := evals.NewRunner(&execAgent{command: agentCmd, env: env}, env, &evals.RunnerOptions{
				TestTimeout: timeout,
				MaxRetries:  retries,
				Concurrency: concurrency,
				ClientName:  "evals-cli",
				Logger:      logger,
			})
			run := runner.RunTests(cmd.Context(), specs)
			if err := evals.WriteReport(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if summary := evals.Summarize(run); !summary.AllPassed() {
				return fmt.Errorf("%d of %d tests failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&testsPath, "tests", "", "path to a JSON file with an array of test specs")
	cmd.Flags().StringVar(&envPath, "environment", "", "path to the environment JSON file")
	cmd.Flags().StringSliceVar(&agentCmd, "agent", nil, "agent command and arguments, run once per test")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-test timeout")
	cmd.Flags().Uint64Var(&retries, "retries", 0, "extra attempts per failed test")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "tests running at once")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging to stderr")
	_ = cmd.MarkFlagRequired("tests")
	_ = cmd.MarkFlagRequired("environment")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func loadSpecs(path string) ([]evals.EvalTestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tests: %w", err)
	}
	var specs []evals.EvalTestSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode tests: %w", err)
	}
	return specs, nil
}

// agentToolPayload is the tool surface shape handed to the agent process.
type agentToolPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Server      string          `json:"server"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type agentRequestPayload struct {
	Prompt  string             `json:"prompt"`
	Model   evals.ModelSpec    `json:"model"`
	Tools   []agentToolPayload `json:"tools"`
	APIKeys map[string]string  `json:"apiKeys,omitempty"`
}

type agentResultPayload struct {
	ToolCalls []evals.ToolCall `json:"toolCalls"`
	Text      string           `json:"text"`
}

// execAgent shells out to the configured command for each test.
type execAgent struct {
	command []string
	env     *evals.Environment
}

func (a *execAgent) Run(ctx context.Context, req evals.AgentRequest) (*evals.AgentResult, error) {
	payload := agentRequestPayload{
		Prompt:  req.Prompt,
		Model:   req.Model,
		APIKeys: a.env.APIKeys,
	}
	for _, tool := range req.Tools {
		doc, err := tool.Schema.Document()
		if err != nil {
			return nil, fmt.Errorf("encode schema for %q: %w", tool.Name, err)
		}
		payload.Tools = append(payload.Tools, agentToolPayload{
			Name:        tool.Name,
			Description: tool.Description,
			Server:      tool.Server,
			InputSchema: doc,
		})
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if len(a.command) == 0 {
		return nil, fmt.Errorf("no agent command configured")
	}
	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = os.Stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", a.command[0], err)
	}

	var result agentResultPayload
	if err := json.Unmarshal(bytes.TrimSpace(output), &result); err != nil {
		return nil, fmt.Errorf("decode agent output: %w", err)
	}
	return &evals.AgentResult{ToolCalls: result.ToolCalls, Text: result.Text}, nil
}
