package connections

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/and1can/inspector-sub014/pkg/mcpauth"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Server    string
}

// RPCLogger is invoked for each JSON-RPC message when traffic logging is
// enabled.
type RPCLogger func(RPCLogEvent)

// BaseServerConfig captures settings shared by all transport kinds.
type BaseServerConfig struct {
	ClientOptions mcp.ClientOptions
	Timeout       time.Duration
	Version       string
	OnError       func(error)
	LogJSONRPC    bool
	RPCLogger     RPCLogger
}

// StdioServerConfig describes an MCP server launched as a child process
// speaking JSON-RPC over its standard streams.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over streamable HTTP,
// with SSE as the fallback framing.
type HTTPServerConfig struct {
	BaseServerConfig

	Endpoint string

	// Headers are attached to every request on both transports.
	Headers http.Header

	// OAuth, when non-nil, attaches an OAuth session to the connection. The
	// negotiated access token is injected as a bearer Authorization header
	// and refreshed transparently on 401 responses.
	OAuth *mcpauth.Config

	// HTTPClient overrides the client used for both transports. The registry
	// decorates its transport; the supplied value is not mutated.
	HTTPClient *http.Client

	// MaxRetries configures the streamable transport's reconnect attempts.
	MaxRetries int

	// SessionID resumes a previously negotiated streamable session.
	SessionID string

	// PreferSSE forces the SSE transport first. When nil, endpoints ending
	// in /sse prefer SSE.
	PreferSSE *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// Options configures a Registry instance.
type Options struct {
	// ClientName overrides the client name advertised during initialization.
	// When empty, the server name is used.
	ClientName string
	// ClientVersion controls the semantic version reported to servers.
	ClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// ConnectTimeout bounds each transport negotiation attempt; when the
	// streamable attempt does not succeed within it, the SSE fallback runs.
	ConnectTimeout time.Duration
	// DefaultClientOptions are merged into each server's options prior to
	// connection.
	DefaultClientOptions mcp.ClientOptions
	// Logger receives structured lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
	// RPCLogger enables JSON-RPC traffic logging for all servers unless
	// overridden per server.
	RPCLogger RPCLogger
	// AutoConnect dials all configured servers in the background immediately
	// after construction.
	AutoConnect bool
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
