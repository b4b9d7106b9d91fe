package mcpauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAuthServer bundles an MCP endpoint and its authorization server into a
// single httptest server.
type fakeAuthServer struct {
	*httptest.Server
	tokenRequests   atomic.Int64
	refreshRequests atomic.Int64
	failRefresh     atomic.Bool
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	fake := &fakeAuthServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fmt.Sprintf(`{"resource":"http://%s/mcp","authorization_servers":["http://%s"]}`, r.Host, r.Host))
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fmt.Sprintf(`{
			"issuer": "http://%s",
			"authorization_endpoint": "http://%s/authorize",
			"token_endpoint": "http://%s/token",
			"registration_endpoint": "http://%s/register",
			"code_challenge_methods_supported": ["S256"]
		}`, r.Host, r.Host, r.Host, r.Host))
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"client_id":"registered-client"}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fake.tokenRequests.Add(1)
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "test-code" {
				http.Error(w, "bad code", http.StatusBadRequest)
				return
			}
			if r.Form.Get("code_verifier") == "" {
				http.Error(w, "missing PKCE verifier", http.StatusBadRequest)
				return
			}
			writeJSON(w, `{"access_token":"access-1","token_type":"bearer","refresh_token":"refresh-1","expires_in":3600}`)
		case "refresh_token":
			fake.refreshRequests.Add(1)
			if fake.failRefresh.Load() {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			writeJSON(w, `{"access_token":"access-2","token_type":"bearer","refresh_token":"refresh-2","expires_in":3600}`)
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
		}
	})

	fake.Server = httptest.NewServer(mux)
	t.Cleanup(fake.Close)
	return fake
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// freeLoopbackURL reserves an ephemeral port for the redirect listener.
func freeLoopbackURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return "http://" + addr + "/callback"
}

func TestNewSessionRequiresCapability(t *testing.T) {
	t.Parallel()

	if _, err := NewSession("http://127.0.0.1/mcp", &Config{}); err == nil {
		t.Fatalf("expected error for config with neither OpenURL nor tokens")
	}

	s, err := NewSession("http://127.0.0.1/mcp", &Config{
		InitialTokens: &Tokens{AccessToken: "seed", Expiry: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !s.Programmatic() {
		t.Fatalf("expected programmatic mode without OpenURL")
	}
	if s.State() != StateComplete {
		t.Fatalf("state = %q, expected complete for seeded session", s.State())
	}
	if err := s.Authorize(context.Background()); !errors.Is(err, ErrProgrammaticMode) {
		t.Fatalf("Authorize in programmatic mode = %v, expected ErrProgrammaticMode", err)
	}
}

func TestSessionAuthorizeFullFlow(t *testing.T) {
	t.Parallel()

	fake := newFakeAuthServer(t)

	var persisted []Tokens
	cfg := &Config{
		RedirectURL: freeLoopbackURL(t),
		OnTokens:    func(tok Tokens) { persisted = append(persisted, tok) },
		OpenURL: func(ctx context.Context, authorizeURL string) error {
			parsed, err := url.Parse(authorizeURL)
			if err != nil {
				return err
			}
			query := parsed.Query()
			if query.Get("code_challenge_method") != "S256" {
				return fmt.Errorf("expected PKCE challenge in authorize URL")
			}
			// Simulate the user approving: the browser lands on the redirect
			// URL with the issued code.
			redirect := query.Get("redirect_uri") + "?code=test-code&state=" + url.QueryEscape(query.Get("state"))
			resp, err := http.Get(redirect)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		},
	}

	session, err := NewSession(fake.URL+"/mcp", cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Authorize(ctx); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if session.State() != StateComplete {
		t.Fatalf("state = %q, expected complete", session.State())
	}
	if session.Strategy() != StrategyDynamic {
		t.Fatalf("strategy = %q, expected dynamic", session.Strategy())
	}
	if session.Flavor() != DiscoveryOAuth2 {
		t.Fatalf("flavor = %q, expected oauth2", session.Flavor())
	}

	token, err := session.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("token = %q, expected access-1", token)
	}
	if len(persisted) != 1 || persisted[0].RefreshToken != "refresh-1" {
		t.Fatalf("persisted tokens = %+v", persisted)
	}
}

func TestSessionProgrammaticRefresh(t *testing.T) {
	t.Parallel()

	fake := newFakeAuthServer(t)

	var persisted []Tokens
	session, err := NewSession(fake.URL+"/mcp", &Config{
		OnTokens: func(tok Tokens) { persisted = append(persisted, tok) },
		InitialTokens: &Tokens{
			AccessToken:  "stale",
			RefreshToken: "refresh-0",
			Expiry:       time.Now().Add(-time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx := context.Background()
	token, err := session.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "access-2" {
		t.Fatalf("token = %q, expected refreshed access-2", token)
	}
	if fake.refreshRequests.Load() != 1 {
		t.Fatalf("refresh requests = %d, expected 1", fake.refreshRequests.Load())
	}
	if len(persisted) != 1 || persisted[0].RefreshToken != "refresh-2" {
		t.Fatalf("persisted tokens = %+v", persisted)
	}

	// The refreshed token is cached: no second network refresh.
	if _, err := session.Token(ctx); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if fake.refreshRequests.Load() != 1 {
		t.Fatalf("refresh requests after cached read = %d, expected 1", fake.refreshRequests.Load())
	}
}

func TestSessionRefreshFailureInvalidates(t *testing.T) {
	t.Parallel()

	fake := newFakeAuthServer(t)
	fake.failRefresh.Store(true)

	session, err := NewSession(fake.URL+"/mcp", &Config{
		InitialTokens: &Tokens{
			AccessToken:  "stale",
			RefreshToken: "refresh-0",
			Expiry:       time.Now().Add(-time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx := context.Background()
	if _, err := session.Token(ctx); !errors.Is(err, ErrAuthenticationExpired) {
		t.Fatalf("Token = %v, expected ErrAuthenticationExpired", err)
	}

	// The session stays invalid without further network traffic.
	before := fake.refreshRequests.Load()
	if _, err := session.Token(ctx); !errors.Is(err, ErrAuthenticationExpired) {
		t.Fatalf("second Token = %v, expected ErrAuthenticationExpired", err)
	}
	if fake.refreshRequests.Load() != before {
		t.Fatalf("invalidated session attempted another refresh")
	}

	if err := session.Refresh(ctx); !errors.Is(err, ErrAuthenticationExpired) {
		t.Fatalf("Refresh on invalid session = %v, expected ErrAuthenticationExpired", err)
	}
}

func TestSessionWithoutRefreshTokenExpires(t *testing.T) {
	t.Parallel()

	session, err := NewSession("http://127.0.0.1/mcp", &Config{
		InitialTokens: &Tokens{AccessToken: "stale", Expiry: time.Now().Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := session.Token(context.Background()); !errors.Is(err, ErrAuthenticationExpired) {
		t.Fatalf("Token = %v, expected ErrAuthenticationExpired", err)
	}
}
