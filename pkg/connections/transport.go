package connections

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/and1can/inspector-sub014/pkg/mcpauth"
)

const sessionHeaderName = "Mcp-Session-Id"

// stdioTransport builds the child-process transport for a stdio server. The
// command is resolved up front so a missing executable surfaces as a spawn
// failure instead of a later handshake error.
func stdioTransport(name string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("connections: command missing for %q: %w", name, ErrSpawnFailure)
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("connections: command %q for %q: %v: %w", cfg.Command, name, err, ErrSpawnFailure)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func preferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}

// decorateHTTPClient layers the static headers, the negotiated session
// identifier, and (when present) the OAuth bearer token onto a copy of the
// base client.
func decorateHTTPClient(base *http.Client, headers http.Header, tracker *sessionIDTracker, auth *mcpauth.Session) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	var rt http.RoundTripper = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
		tracker: tracker,
	}
	if auth != nil {
		rt = &authTransport{next: rt, session: auth}
	}
	clone.Transport = rt
	return &clone
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
	tracker *sessionIDTracker
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.tracker != nil {
		if sessionID := d.tracker.Value(); sessionID != "" {
			req.Header.Set(sessionHeaderName, sessionID)
		}
	}
	return d.next.RoundTrip(req)
}

// authTransport injects the session's access token and performs a single
// transparent refresh-and-retry when the server answers 401. A failed refresh
// surfaces mcpauth.ErrAuthenticationExpired to the caller.
type authTransport struct {
	next    http.RoundTripper
	session *mcpauth.Session
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.session.Token(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(t.withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	retry, ok := t.rewindable(req)
	if !ok {
		return resp, nil
	}
	if err := t.session.Refresh(req.Context()); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	token, err = t.session.Token(req.Context())
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return t.next.RoundTrip(t.withBearer(retry, token))
}

func (t *authTransport) withBearer(req *http.Request, token string) *http.Request {
	clone := req.Clone(req.Context())
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	if token != "" && clone.Header.Get("Authorization") == "" {
		clone.Header.Set("Authorization", "Bearer "+token)
	}
	return clone
}

// rewindable returns a request whose body can be replayed, or ok=false when
// the original body is a one-shot stream.
func (t *authTransport) rewindable(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, true
}

type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func newSessionIDTracker(initial string) *sessionIDTracker {
	return &sessionIDTracker{value: initial}
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// loggingTransport mirrors JSON-RPC traffic to an RPCLogger without altering
// transport semantics.
type loggingTransport struct {
	server   string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{server: t.server, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	server   string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	if c.logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, Server: c.server})
}
