package toolset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/and1can/inspector-sub014/pkg/connections"
)

// Tool is an immutable snapshot of one aggregated tool, carrying the owning
// server and the normalized input schema.
type Tool struct {
	Name        string
	Description string
	Server      string
	Schema      ToolSchema
}

// CallStatus tags a CallOutcome.
type CallStatus string

const (
	CallCompleted CallStatus = "completed"
	CallError     CallStatus = "error"
)

// CallOutcome is the structured result of one tool invocation. Caller-facing
// failures land in Error with Status CallError; Call never panics and never
// surfaces tool failures as Go errors.
type CallOutcome struct {
	Status CallStatus
	Result *mcp.CallToolResult
	Error  string
}

func errorOutcome(format string, args ...any) CallOutcome {
	return CallOutcome{Status: CallError, Error: fmt.Sprintf(format, args...)}
}

// Options configures a Toolset.
type Options struct {
	// ValidateArguments checks call arguments against the normalized object
	// schema before dispatch. Validation failures are caller-facing error
	// outcomes, not transport errors.
	ValidateArguments bool
	// CallTimeout bounds each dispatched call. Zero defers to the owning
	// connection's timeout.
	CallTimeout time.Duration
	// Logger receives aggregation diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Toolset maps tool names onto their owning connections. It holds server
// names resolved through the registry, never a connection itself, so registry
// teardown stays the single point of truth.
type Toolset struct {
	mu sync.RWMutex

	registry *connections.Registry
	opts     Options
	logger   *slog.Logger

	tools map[string]Tool
	order []string
}

// New constructs an empty Toolset over the given registry. Call Refresh to
// aggregate.
func New(registry *connections.Registry, opts *Options) *Toolset {
	options := opts.normalized()
	return &Toolset{
		registry: registry,
		opts:     options,
		logger:   options.Logger,
		tools:    make(map[string]Tool),
	}
}

// Refresh aggregates tool lists from the selected servers, or from every
// registered server when none are named. Name collisions resolve
// last-registration-wins in the iteration order of the server list. The
// previous aggregation is replaced wholesale.
func (ts *Toolset) Refresh(ctx context.Context, servers ...string) error {
	selected := servers
	if len(selected) == 0 {
		selected = ts.registry.ListServers()
	}

	tools := make(map[string]Tool)
	var order []string
	for _, server := range selected {
		listed, err := ts.registry.ListTools(ctx, server, nil)
		if err != nil {
			return fmt.Errorf("toolset: list tools on %q: %w", server, err)
		}
		for _, tool := range listed.Tools {
			if tool == nil {
				continue
			}
			schema, err := NormalizeSchema(tool.InputSchema)
			if err != nil {
				ts.logger.Warn("skipping tool with undecodable schema",
					"server", server, "tool", tool.Name, "error", err)
				continue
			}
			if prior, exists := tools[tool.Name]; exists {
				ts.logger.Debug("tool name collision, last registration wins",
					"tool", tool.Name, "replaced", prior.Server, "winner", server)
			} else {
				order = append(order, tool.Name)
			}
			tools[tool.Name] = Tool{
				Name:        tool.Name,
				Description: tool.Description,
				Server:      server,
				Schema:      schema,
			}
		}
	}

	ts.mu.Lock()
	ts.tools = tools
	ts.order = order
	ts.mu.Unlock()
	return nil
}

// Tools returns the aggregated snapshot in aggregation order.
func (ts *Toolset) Tools() []Tool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]Tool, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.tools[name])
	}
	return out
}

// Lookup returns the aggregated tool by name.
func (ts *Toolset) Lookup(name string) (Tool, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tool, ok := ts.tools[name]
	return tool, ok
}

// Owner returns the server owning a tool name.
func (ts *Toolset) Owner(name string) (string, bool) {
	tool, ok := ts.Lookup(name)
	return tool.Server, ok
}

// Call dispatches one tool invocation to its owning connection. Unknown
// names, argument validation failures, and transport errors all come back as
// error outcomes.
func (ts *Toolset) Call(ctx context.Context, name string, args map[string]any) (outcome CallOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = errorOutcome("tool %q panicked during dispatch: %v", name, r)
		}
	}()

	tool, ok := ts.Lookup(name)
	if !ok {
		return errorOutcome("unknown tool %q", name)
	}

	if ts.opts.ValidateArguments {
		if msg, ok := ts.validate(tool, args); !ok {
			return errorOutcome("invalid arguments for %q: %s", name, msg)
		}
	}

	if ts.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ts.opts.CallTimeout)
		defer cancel()
	}

	result, err := ts.registry.CallTool(ctx, tool.Server, name, args)
	if err != nil {
		return errorOutcome("call %q on %q: %v", name, tool.Server, err)
	}
	return CallOutcome{Status: CallCompleted, Result: result}
}

// validate checks args against the normalized object schema. Opaque schemas
// are never validated.
func (ts *Toolset) validate(tool Tool, args map[string]any) (string, bool) {
	object, ok := AsObject(tool.Schema)
	if !ok {
		return "", true
	}
	doc, err := object.Document()
	if err != nil {
		return "", true
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(doc), gojsonschema.NewGoLoader(args))
	if err != nil {
		// A schema the validator cannot compile does not block the call.
		ts.logger.Debug("argument validation unavailable", "tool", tool.Name, "error", err)
		return "", true
	}
	if result.Valid() {
		return "", true
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return strings.Join(msgs, "; "), false
}
