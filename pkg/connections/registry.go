package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/and1can/inspector-sub014/pkg/mcpauth"
)

// ConnectionState tracks the lifecycle of one managed connection.
// Disconnected and Failed are terminal for a connection value; Reconnect
// installs a fresh value under the same name.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	Name   string
	State  ConnectionState
	Config ServerConfig
}

// Registry owns the set of named connections. It is the single point of
// truth for connection lifecycle: every other component resolves servers
// through it and never holds a session beyond one operation.
type Registry struct {
	mu sync.RWMutex

	opts       Options
	logger     *slog.Logger
	dispatcher *Dispatcher

	conns map[string]*connection
}

// connection is one live (or pending) session to a single server. A new
// value is created per connect attempt; terminal states stick to the value.
type connection struct {
	config  ServerConfig
	state   ConnectionState
	timeout time.Duration

	client  *mcp.Client
	session *mcp.ClientSession
	auth    *mcpauth.Session
	tracker *sessionIDTracker

	connecting bool
	connectCh  chan struct{}
	lastErr    error

	nextCall uint64
	pending  map[uint64]context.CancelCauseFunc
}

func newConnection(cfg ServerConfig, sessionID string) *connection {
	return &connection{
		config:  cfg,
		state:   StateIdle,
		tracker: newSessionIDTracker(sessionID),
		pending: make(map[uint64]context.CancelCauseFunc),
	}
}

func (c *connection) failPendingLocked(cause error) {
	for id, cancel := range c.pending {
		cancel(cause)
		delete(c.pending, id)
	}
}

// NewRegistry constructs a Registry with optional initial server
// configurations. Pass nil options to fall back to defaults. When
// Options.AutoConnect is true, all configured servers are dialed in the
// background immediately.
func NewRegistry(cfg map[string]ServerConfig, opts *Options) *Registry {
	options := opts.normalized()
	r := &Registry{
		opts:       options,
		logger:     options.Logger,
		dispatcher: NewDispatcher(options.Logger),
		conns:      make(map[string]*connection),
	}
	for name, sc := range cfg {
		r.conns[name] = newConnection(sc, httpSessionID(sc))
		if options.AutoConnect {
			go func(server string) {
				ctx, cancel := context.WithTimeout(context.Background(), options.DefaultTimeout)
				defer cancel()
				if _, err := r.Connect(ctx, server, nil); err != nil {
					r.logger.Warn("auto-connect failed", "server", server, "error", err)
				}
			}(name)
		}
	}
	return r
}

func httpSessionID(cfg ServerConfig) string {
	if httpCfg, ok := AsHTTP(cfg); ok {
		return httpCfg.SessionID
	}
	return ""
}

// Dispatcher returns the registry's notification dispatcher for handler
// registration.
func (r *Registry) Dispatcher() *Dispatcher { return r.dispatcher }

// ListServers returns known server names in sorted order.
func (r *Registry) ListServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasServer reports whether a server name is known.
func (r *Registry) HasServer(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[name]
	return ok
}

// Config returns the registered configuration for a server, or nil when the
// name is unknown.
func (r *Registry) Config(name string) ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[name]; ok {
		return conn.config
	}
	return nil
}

// StateOf returns the current state of the named connection; the empty
// string when the name is unknown.
func (r *Registry) StateOf(name string) ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[name]; ok {
		return conn.state
	}
	return ""
}

// PendingCalls reports the number of in-flight calls on the named
// connection. After a disconnect it is always zero.
func (r *Registry) PendingCalls(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn, ok := r.conns[name]; ok {
		return len(conn.pending)
	}
	return 0
}

// Summaries returns status snapshots for all managed servers, verifying
// connected states with a lightweight ping.
func (r *Registry) Summaries(ctx context.Context) []ServerSummary {
	r.mu.RLock()
	summaries := make([]ServerSummary, 0, len(r.conns))
	for name, conn := range r.conns {
		summaries = append(summaries, ServerSummary{Name: name, Config: conn.config})
	}
	r.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	for idx := range summaries {
		summaries[idx].State = r.StateByPing(ctx, summaries[idx].Name)
	}
	return summaries
}

// StateByPing resolves the tracked state, demoting a connected session to
// disconnected when it no longer answers a short ping.
func (r *Registry) StateByPing(ctx context.Context, name string) ConnectionState {
	r.mu.RLock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.RUnlock()
		return ""
	}
	state := conn.state
	session := conn.session
	r.mu.RUnlock()
	if state != StateConnected {
		return state
	}
	if session == nil {
		return StateDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := session.Ping(ctx, nil); err != nil {
		return StateDisconnected
	}
	return StateConnected
}

// Connect establishes (or reuses) a session for the named server. When cfg
// is nil, the previously registered configuration is used; a different cfg
// is rejected while a session is live, since a connection's configuration is
// fixed for its lifetime (use Reconnect to swap it). Concurrent connect
// attempts for the same name coalesce onto a single negotiation.
func (r *Registry) Connect(ctx context.Context, name string, cfg ServerConfig) (*mcp.ClientSession, error) {
	for {
		r.mu.Lock()
		conn, ok := r.conns[name]
		if !ok {
			if cfg == nil {
				r.mu.Unlock()
				return nil, fmt.Errorf("connections: %w: %q", ErrUnknownServer, name)
			}
			conn = newConnection(cfg, httpSessionID(cfg))
			r.conns[name] = conn
		}
		if cfg != nil && cfg != conn.config {
			// Config is immutable while a session built from it is live or
			// being built; changes go through Reconnect.
			if conn.session != nil || conn.connecting {
				r.mu.Unlock()
				return nil, fmt.Errorf("connections: %q already has a live session; use Reconnect to change its configuration", name)
			}
			conn.config = cfg
		}
		if conn.config == nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("connections: missing configuration for %q", name)
		}
		// Disconnected and Failed are terminal for a connection value; a new
		// connect installs a fresh one under the same name.
		if conn.session == nil && !conn.connecting &&
			(conn.state == StateDisconnected || conn.state == StateFailed) {
			fresh := newConnection(conn.config, httpSessionID(conn.config))
			r.conns[name] = fresh
			conn = fresh
		}
		if conn.session != nil {
			session := conn.session
			r.mu.Unlock()
			return session, nil
		}
		if conn.connecting {
			ch := conn.connectCh
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		conn.connecting = true
		conn.connectCh = make(chan struct{})
		conn.state = StateConnecting
		base := conn.config.base()
		timeout := base.Timeout
		if timeout <= 0 {
			timeout = r.opts.DefaultTimeout
		}
		conn.timeout = timeout
		r.mu.Unlock()

		session, err := r.establish(ctx, name, conn)
		r.mu.Lock()
		conn.connecting = false
		close(conn.connectCh)
		// A Disconnect or Remove racing the handshake moves the connection
		// to a terminal state; the late session must not resurrect it.
		stale := r.conns[name] != conn || conn.state != StateConnecting
		if err != nil {
			if !stale {
				conn.state = StateFailed
				conn.lastErr = err
			}
			if conn.session == nil {
				conn.client = nil
			}
			r.mu.Unlock()
			r.logger.Warn("connect failed", "server", name, "error", err)
			return nil, err
		}
		if stale {
			conn.client = nil
			r.mu.Unlock()
			go func() { _ = session.Close() }()
			r.logger.Debug("discarding session for torn-down connection", "server", name)
			return nil, fmt.Errorf("connections: %w: %q", ErrConnectionClosed, name)
		}
		conn.session = session
		conn.state = StateConnected
		conn.lastErr = nil
		r.mu.Unlock()
		r.logger.Debug("connected", "server", name)
		return session, nil
	}
}

// Reconnect tears down any live session for name and dials a fresh
// connection value under the same identifier. A non-nil cfg replaces the
// registered configuration.
func (r *Registry) Reconnect(ctx context.Context, name string, cfg ServerConfig) (*mcp.ClientSession, error) {
	if err := r.Disconnect(ctx, name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	old, ok := r.conns[name]
	if !ok && cfg == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("connections: %w: %q", ErrUnknownServer, name)
	}
	next := cfg
	if next == nil {
		next = old.config
	}
	r.conns[name] = newConnection(next, httpSessionID(next))
	r.mu.Unlock()
	return r.Connect(ctx, name, nil)
}

func (r *Registry) establish(ctx context.Context, name string, conn *connection) (*mcp.ClientSession, error) {
	base := conn.config.base()
	impl := &mcp.Implementation{
		Name:    r.effectiveClientName(name),
		Version: r.effectiveClientVersion(base),
	}
	clientOpts := r.composeClientOptions(name, base)
	rpcLogger := r.resolveRPCLogger(base)

	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, *mcp.Client, error) {
		client := mcp.NewClient(impl, &clientOpts)
		wrapped := transport
		if rpcLogger != nil {
			wrapped = &loggingTransport{server: name, delegate: transport, logger: rpcLogger}
		}
		session, err := client.Connect(ctx, wrapped, nil)
		if err != nil {
			return nil, nil, err
		}
		return session, client, nil
	}

	connectCtx := ctx
	if conn.timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, conn.timeout)
		defer cancel()
	}

	switch cfg := conn.config.(type) {
	case *StdioServerConfig:
		transport, err := stdioTransport(name, cfg)
		if err != nil {
			return nil, err
		}
		session, client, err := attempt(connectCtx, transport)
		if err != nil {
			return nil, classifyStdioConnectError(name, err)
		}
		conn.client = client
		go r.monitorSession(name, conn, session, base)
		return session, nil
	case *HTTPServerConfig:
		return r.establishHTTP(connectCtx, name, conn, base, cfg, attempt)
	default:
		return nil, fmt.Errorf("connections: unsupported config for %q", name)
	}
}

// establishHTTP negotiates the HTTP transport: streamable first, bounded by
// the connect timeout, then SSE against the same endpoint. Both share the
// decorated headers and, when configured, the OAuth bearer token.
func (r *Registry) establishHTTP(
	ctx context.Context,
	name string,
	conn *connection,
	base *BaseServerConfig,
	cfg *HTTPServerConfig,
	attempt func(context.Context, mcp.Transport) (*mcp.ClientSession, *mcp.Client, error),
) (*mcp.ClientSession, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("connections: endpoint missing for %q", name)
	}
	if cfg.OAuth != nil && conn.auth == nil {
		auth, err := mcpauth.NewSession(cfg.Endpoint, cfg.OAuth)
		if err != nil {
			return nil, err
		}
		conn.auth = auth
	}

	httpClient := decorateHTTPClient(cfg.HTTPClient, cfg.Headers, conn.tracker, conn.auth)
	streamable := &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: httpClient,
		MaxRetries: cfg.MaxRetries,
	}
	sse := &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}

	var streamErr error
	if !preferSSE(cfg) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
		session, client, err := attempt(attemptCtx, streamable)
		cancel()
		if err == nil {
			conn.tracker.Set(session.ID())
			conn.client = client
			go r.monitorSession(name, conn, session, base)
			return session, nil
		}
		streamErr = err
		r.logger.Debug("streamable transport failed, trying sse", "server", name, "error", err)
	}
	session, client, err := attempt(ctx, sse)
	if err != nil {
		if errors.Is(err, mcpauth.ErrAuthenticationExpired) {
			return nil, err
		}
		if streamErr != nil {
			return nil, fmt.Errorf("connections: connect %q: streamable: %v; sse: %v: %w", name, streamErr, err, ErrHandshakeFailure)
		}
		return nil, fmt.Errorf("connections: connect %q: %v: %w", name, err, ErrHandshakeFailure)
	}
	conn.tracker.Set(session.ID())
	conn.client = client
	go r.monitorSession(name, conn, session, base)
	return session, nil
}

// classifyStdioConnectError separates process launch failures from protocol
// handshake failures after the transport was built.
func classifyStdioConnectError(name string, err error) error {
	msg := err.Error()
	if errors.Is(err, exec.ErrNotFound) ||
		strings.Contains(msg, "fork/exec") ||
		strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory") {
		return fmt.Errorf("connections: start %q: %v: %w", name, err, ErrSpawnFailure)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("connections: connect %q: %v: %w", name, err, ErrHandshakeFailure)
}

// monitorSession waits for the session to end and records the transition.
// Stale monitors (reconnect replaced the connection value) leave the new
// value alone.
func (r *Registry) monitorSession(name string, conn *connection, session *mcp.ClientSession, base *BaseServerConfig) {
	err := session.Wait()
	if err != nil && base.OnError != nil {
		base.OnError(err)
	}
	r.mu.Lock()
	current, ok := r.conns[name]
	if ok && current == conn && conn.session == session {
		conn.session = nil
		conn.client = nil
		if conn.state == StateConnected {
			conn.state = StateDisconnected
		}
		conn.failPendingLocked(ErrConnectionClosed)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		r.dispatcher.ClearServer(name)
		r.logger.Debug("session ended", "server", name, "error", err)
	}
}

func (r *Registry) effectiveClientName(name string) string {
	if r.opts.ClientName != "" {
		return r.opts.ClientName
	}
	return name
}

func (r *Registry) effectiveClientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return r.opts.ClientVersion
}

func (r *Registry) resolveRPCLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if r.opts.RPCLogger != nil {
		return r.opts.RPCLogger
	}
	if base.LogJSONRPC {
		logger := r.logger
		return func(event RPCLogEvent) {
			logger.Info("jsonrpc", "server", event.Server, "direction", string(event.Direction), "message", string(event.Message))
		}
	}
	return nil
}

// composeClientOptions merges the registry defaults with the per-server
// options and chains every notification handler into the dispatcher.
func (r *Registry) composeClientOptions(name string, base *BaseServerConfig) mcp.ClientOptions {
	opts := r.opts.DefaultClientOptions
	mergeClientOptions(&opts, &base.ClientOptions)
	wrapped := opts

	originalTool := wrapped.ToolListChangedHandler
	originalPrompt := wrapped.PromptListChangedHandler
	originalResList := wrapped.ResourceListChangedHandler
	originalResUpdate := wrapped.ResourceUpdatedHandler
	originalProgress := wrapped.ProgressNotificationHandler

	wrapped.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if originalTool != nil {
			originalTool(ctx, req)
		}
		r.dispatcher.Dispatch(ctx, Notification{Server: name, Category: CategoryToolListChanged, Payload: req})
	}
	wrapped.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if originalPrompt != nil {
			originalPrompt(ctx, req)
		}
		r.dispatcher.Dispatch(ctx, Notification{Server: name, Category: CategoryPromptListChanged, Payload: req})
	}
	wrapped.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if originalResList != nil {
			originalResList(ctx, req)
		}
		r.dispatcher.Dispatch(ctx, Notification{Server: name, Category: CategoryResourceListChanged, Payload: req})
	}
	wrapped.ResourceUpdatedHandler = func(ctx context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
		if originalResUpdate != nil {
			originalResUpdate(ctx, req)
		}
		r.dispatcher.Dispatch(ctx, Notification{Server: name, Category: CategoryResourceUpdated, Payload: req})
	}
	wrapped.ProgressNotificationHandler = func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
		if originalProgress != nil {
			originalProgress(ctx, req)
		}
		r.dispatcher.Dispatch(ctx, Notification{Server: name, Category: CategoryProgress, Payload: req})
	}
	return wrapped
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src == nil {
		return
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

// Disconnect closes the session for the named server, fails every pending
// call with ErrConnectionClosed, and clears notification registrations.
// Unknown names are a no-op.
func (r *Registry) Disconnect(ctx context.Context, name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	conn.failPendingLocked(ErrConnectionClosed)
	session := conn.session
	conn.session = nil
	conn.client = nil
	if conn.state == StateConnected || conn.state == StateConnecting {
		conn.state = StateDisconnected
	}
	r.mu.Unlock()
	r.dispatcher.ClearServer(name)
	if session == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	var closeErr error
	go func() {
		closeErr = session.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return closeErr
	}
}

// DisconnectAll closes sessions for all servers, joining any errors.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.ListServers() {
		if err := r.Disconnect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove disconnects and forgets a server.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.Disconnect(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.conns, name)
	r.mu.Unlock()
	return nil
}

// SessionID returns the negotiated session identifier for HTTP transports
// when available.
func (r *Registry) SessionID(name string) (string, error) {
	r.mu.RLock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.RUnlock()
		return "", fmt.Errorf("connections: %w: %q", ErrUnknownServer, name)
	}
	session := conn.session
	r.mu.RUnlock()
	if session == nil {
		return "", fmt.Errorf("connections: server %q not connected", name)
	}
	id := session.ID()
	if id == "" {
		return "", fmt.Errorf("connections: session ID unavailable for %q", name)
	}
	return id, nil
}

func (r *Registry) ensureSession(ctx context.Context, name string) (*mcp.ClientSession, *connection, time.Duration, error) {
	for {
		r.mu.RLock()
		conn, ok := r.conns[name]
		if !ok {
			r.mu.RUnlock()
			return nil, nil, 0, fmt.Errorf("connections: %w: %q", ErrUnknownServer, name)
		}
		if conn.session != nil {
			session := conn.session
			timeout := conn.timeout
			r.mu.RUnlock()
			return session, conn, timeout, nil
		}
		connectCh := conn.connectCh
		connecting := conn.connecting
		r.mu.RUnlock()
		if !connecting {
			if _, err := r.Connect(ctx, name, nil); err != nil {
				return nil, nil, 0, err
			}
			continue
		}
		if connectCh == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		case <-connectCh:
		}
	}
}

// beginCall derives the per-call context (deadline plus disconnect
// cancellation) and registers the call so Disconnect can fail it.
func (r *Registry) beginCall(ctx context.Context, conn *connection, timeout time.Duration) (context.Context, func()) {
	callCtx, cancel := context.WithCancelCause(ctx)
	stopTimeout := func() {}
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		callCtx, timeoutCancel = context.WithTimeout(callCtx, timeout)
		stopTimeout = timeoutCancel
	}
	r.mu.Lock()
	id := conn.nextCall
	conn.nextCall++
	conn.pending[id] = cancel
	r.mu.Unlock()
	cleanup := func() {
		stopTimeout()
		cancel(nil)
		r.mu.Lock()
		delete(conn.pending, id)
		r.mu.Unlock()
	}
	return callCtx, cleanup
}

// wrapCallErr maps context-level failures onto the call error taxonomy: a
// disconnect-cancelled call reports ErrConnectionClosed, an expired deadline
// reports ErrTimeout. The connection stays connected on timeout.
func wrapCallErr(callCtx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(callCtx); errors.Is(cause, ErrConnectionClosed) {
		return fmt.Errorf("connections: call on %q: %w", name, ErrConnectionClosed)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("connections: call on %q: %w", name, ErrTimeout)
	}
	return err
}

// Ping sends a protocol-level ping, establishing a connection if needed.
func (r *Registry) Ping(ctx context.Context, name string, params *mcp.PingParams) error {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	return wrapCallErr(callCtx, name, session.Ping(callCtx, params))
}

// ListTools retrieves the server's tools, coercing "method not found" style
// errors into an empty list.
func (r *Registry) ListTools(ctx context.Context, name string, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.ListTools(callCtx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListToolsResult{Tools: []*mcp.Tool{}}, nil
		}
		return nil, wrapCallErr(callCtx, name, err)
	}
	return res, nil
}

// CallTool invokes a tool on the named server.
func (r *Registry) CallTool(ctx context.Context, name, toolName string, args any) (*mcp.CallToolResult, error) {
	return r.CallToolWithParams(ctx, name, &mcp.CallToolParams{Name: toolName, Arguments: args})
}

// CallToolWithParams invokes a tool with the full CallToolParams, preserving
// metadata such as progress tokens.
func (r *Registry) CallToolWithParams(ctx context.Context, name string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, fmt.Errorf("connections: missing call tool params for %q", name)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("connections: tool name is required for %q", name)
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.CallTool(callCtx, params)
	return res, wrapCallErr(callCtx, name, err)
}

// ListResources proxies resources/list, coercing unsupported servers into an
// empty list.
func (r *Registry) ListResources(ctx context.Context, name string, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.ListResources(callCtx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListResourcesResult{Resources: []*mcp.Resource{}}, nil
		}
		return nil, wrapCallErr(callCtx, name, err)
	}
	return res, nil
}

// ReadResource proxies resources/read.
func (r *Registry) ReadResource(ctx context.Context, name string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.ReadResource(callCtx, params)
	return res, wrapCallErr(callCtx, name, err)
}

// ListResourceTemplates retrieves resource templates, returning an empty
// list when the server does not support them.
func (r *Registry) ListResourceTemplates(ctx context.Context, name string, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.ListResourceTemplates(callCtx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListResourceTemplatesResult{ResourceTemplates: []*mcp.ResourceTemplate{}}, nil
		}
		return nil, wrapCallErr(callCtx, name, err)
	}
	return res, nil
}

// SubscribeResource subscribes to resource update notifications.
func (r *Registry) SubscribeResource(ctx context.Context, name string, params *mcp.SubscribeParams) error {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	return wrapCallErr(callCtx, name, session.Subscribe(callCtx, params))
}

// UnsubscribeResource cancels a resource subscription.
func (r *Registry) UnsubscribeResource(ctx context.Context, name string, params *mcp.UnsubscribeParams) error {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	return wrapCallErr(callCtx, name, session.Unsubscribe(callCtx, params))
}

// ListPrompts retrieves server prompts, normalizing unsupported servers to
// an empty prompt slice.
func (r *Registry) ListPrompts(ctx context.Context, name string, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.ListPrompts(callCtx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{}}, nil
		}
		return nil, wrapCallErr(callCtx, name, err)
	}
	return res, nil
}

// GetPrompt retrieves a single prompt definition.
func (r *Registry) GetPrompt(ctx context.Context, name string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	session, conn, timeout, err := r.ensureSession(ctx, name)
	if err != nil {
		return nil, err
	}
	callCtx, done := r.beginCall(ctx, conn, timeout)
	defer done()
	res, err := session.GetPrompt(callCtx, params)
	return res, wrapCallErr(callCtx, name, err)
}

// ListAllTools lists tools on every registered server, keyed by server name.
// Per-server failures are joined into the returned error; successful servers
// still appear in the map.
func (r *Registry) ListAllTools(ctx context.Context, params *mcp.ListToolsParams) (map[string]*mcp.ListToolsResult, error) {
	out := make(map[string]*mcp.ListToolsResult)
	var errs []error
	for _, name := range r.ListServers() {
		res, err := r.ListTools(ctx, name, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("connections: %s: %w", name, err))
			continue
		}
		out[name] = res
	}
	return out, errors.Join(errs...)
}

// ListAllResources lists resources on every registered server, keyed by
// server name, with the same partial-result semantics as ListAllTools.
func (r *Registry) ListAllResources(ctx context.Context, params *mcp.ListResourcesParams) (map[string]*mcp.ListResourcesResult, error) {
	out := make(map[string]*mcp.ListResourcesResult)
	var errs []error
	for _, name := range r.ListServers() {
		res, err := r.ListResources(ctx, name, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("connections: %s: %w", name, err))
			continue
		}
		out[name] = res
	}
	return out, errors.Join(errs...)
}

// ListAllPrompts lists prompts on every registered server, keyed by server
// name, with the same partial-result semantics as ListAllTools.
func (r *Registry) ListAllPrompts(ctx context.Context, params *mcp.ListPromptsParams) (map[string]*mcp.ListPromptsResult, error) {
	out := make(map[string]*mcp.ListPromptsResult)
	var errs []error
	for _, name := range r.ListServers() {
		res, err := r.ListPrompts(ctx, name, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("connections: %s: %w", name, err))
			continue
		}
		out[name] = res
	}
	return out, errors.Join(errs...)
}

// isMethodUnavailableError recognizes servers that reject a listing method
// outright, so callers can coerce the result to an empty list.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}
