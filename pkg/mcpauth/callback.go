package mcpauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// callbackResult carries the outcome of one redirect hit.
type callbackResult struct {
	code  string
	state string
	err   error
}

// callbackListener serves the OAuth redirect URL on a loopback listener and
// hands the authorization code back to the flow.
type callbackListener struct {
	server  *http.Server
	results chan callbackResult
}

// newCallbackListener binds the host/port named by redirectURL and starts
// serving its path. The listener must be closed by the caller.
func newCallbackListener(redirectURL string) (*callbackListener, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: invalid redirect URL: %w", err)
	}
	addr := parsed.Host
	if parsed.Port() == "" {
		addr = net.JoinHostPort(parsed.Hostname(), "80")
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: bind callback listener on %s: %w", addr, err)
	}

	cl := &callbackListener{results: make(chan callbackResult, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc(path, cl.handle)
	cl.server = &http.Server{Handler: mux}
	go func() { _ = cl.server.Serve(listener) }()
	return cl, nil
}

func (cl *callbackListener) handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := callbackResult{
		code:  query.Get("code"),
		state: query.Get("state"),
	}
	if errCode := query.Get("error"); errCode != "" {
		result.err = fmt.Errorf("mcpauth: authorization denied: %s (%s)", errCode, query.Get("error_description"))
	} else if result.code == "" {
		result.err = fmt.Errorf("mcpauth: redirect carried no authorization code")
	}

	select {
	case cl.results <- result:
	default:
		// A second hit on the callback is ignored; the first result wins.
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "<html><body><p>Authorization failed. You can close this window.</p></body></html>")
		return
	}
	fmt.Fprint(w, "<html><body><p>Authorization complete. You can close this window.</p></body></html>")
}

// Wait blocks until the redirect delivers a code, verifying the state
// parameter to reject forged callbacks.
func (cl *callbackListener) Wait(ctx context.Context, expectedState string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-cl.results:
		if result.err != nil {
			return "", result.err
		}
		if result.state != expectedState {
			return "", fmt.Errorf("mcpauth: state mismatch on authorization callback")
		}
		return result.code, nil
	}
}

// Close shuts the listener down.
func (cl *callbackListener) Close() error {
	return cl.server.Close()
}
