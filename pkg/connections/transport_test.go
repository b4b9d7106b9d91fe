package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and1can/inspector-sub014/pkg/mcpauth"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(status int, req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}
}

func TestStdioTransportMissingCommand(t *testing.T) {
	t.Parallel()

	if _, err := stdioTransport("ghost", &StdioServerConfig{Command: "definitely-not-on-path-xyz"}); !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure for missing executable, got %v", err)
	}
	if _, err := stdioTransport("ghost", &StdioServerConfig{}); !errors.Is(err, ErrSpawnFailure) {
		t.Fatalf("expected ErrSpawnFailure for empty command, got %v", err)
	}
}

func TestPreferSSEHeuristic(t *testing.T) {
	t.Parallel()

	if preferSSE(&HTTPServerConfig{Endpoint: "https://example.com/mcp"}) {
		t.Fatalf("did not expect SSE preference for non-sse endpoint")
	}
	if !preferSSE(&HTTPServerConfig{Endpoint: "https://example.com/sse"}) {
		t.Fatalf("expected SSE preference for /sse endpoint")
	}
	override := true
	if !preferSSE(&HTTPServerConfig{Endpoint: "https://example.com/mcp", PreferSSE: &override}) {
		t.Fatalf("explicit PreferSSE=true should win")
	}
}

func TestDecorateHTTPClientAddsHeadersAndSession(t *testing.T) {
	t.Parallel()

	tracker := newSessionIDTracker("session-123")
	headers := http.Header{"X-Inspector-Source": []string{"transport-tests"}}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-Inspector-Source"); got != "transport-tests" {
			t.Fatalf("decorated header missing, got %q", got)
		}
		if got := req.Header.Get(sessionHeaderName); got != "session-123" {
			t.Fatalf("session header missing, got %q", got)
		}
		return textResponse(http.StatusNoContent, req), nil
	})

	client := decorateHTTPClient(&http.Client{Transport: rt}, headers, tracker, nil)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/mcp", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("decorated client Do error: %v", err)
	}
	_ = resp.Body.Close()
}

// newRefreshingAuthSession builds a programmatic OAuth session whose
// authorization server lives on an httptest server, so transparent refresh
// can run for real.
func newRefreshingAuthSession(t *testing.T, refreshed *atomic.Int64) *mcpauth.Session {
	t.Helper()
	mux := http.NewServeMux()
	var origin string
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":"%s/mcp","authorization_servers":["%s"]}`, origin, origin)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":"%s","authorization_endpoint":"%s/authorize","token_endpoint":"%s/token"}`, origin, origin, origin)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		refreshed.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","token_type":"bearer","refresh_token":"refresh-2","expires_in":3600}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	origin = server.URL

	session, err := mcpauth.NewSession(server.URL+"/mcp", &mcpauth.Config{
		InitialTokens: &mcpauth.Tokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func TestAuthTransportRefreshesOnceOnUnauthorized(t *testing.T) {
	t.Parallel()

	var refreshed atomic.Int64
	session := newRefreshingAuthSession(t, &refreshed)

	var attempts atomic.Int64
	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts.Add(1)
		switch req.Header.Get("Authorization") {
		case "Bearer access-1":
			return textResponse(http.StatusUnauthorized, req), nil
		case "Bearer access-2":
			return textResponse(http.StatusOK, req), nil
		default:
			t.Fatalf("unexpected Authorization header %q", req.Header.Get("Authorization"))
			return nil, nil
		}
	})

	rt := &authTransport{next: inner, session: session}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/mcp", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, expected 200 after refresh retry", resp.StatusCode)
	}
	if attempts.Load() != 2 {
		t.Fatalf("attempts = %d, expected exactly one retry", attempts.Load())
	}
	if refreshed.Load() != 1 {
		t.Fatalf("token endpoint hits = %d, expected one refresh", refreshed.Load())
	}
}

func TestAuthTransportDoesNotRetryUnreplayableBody(t *testing.T) {
	t.Parallel()

	var refreshed atomic.Int64
	session := newRefreshingAuthSession(t, &refreshed)

	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return textResponse(http.StatusUnauthorized, req), nil
	})
	rt := &authTransport{next: inner, session: session}

	req, err := http.NewRequest(http.MethodPost, "https://example.com/mcp", io.NopCloser(strings.NewReader("{}")))
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	req.GetBody = nil

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, expected the original 401 back", resp.StatusCode)
	}
	if refreshed.Load() != 0 {
		t.Fatalf("one-shot body must not trigger a refresh, got %d", refreshed.Load())
	}
}
