package mcpauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// FlowState tracks a session's progress through the authorization flow.
type FlowState string

const (
	StateMetadataDiscovery     FlowState = "metadata_discovery"
	StateClientRegistration    FlowState = "client_registration"
	StateAuthorizationRedirect FlowState = "authorization_redirect"
	StateAuthorizationCode     FlowState = "authorization_code"
	StateTokenRequest          FlowState = "token_request"
	StateComplete              FlowState = "complete"
)

// Session holds the mutable OAuth state for one connection. All mutation
// happens inside the flow engine; transports read tokens through Token.
type Session struct {
	mu sync.Mutex

	endpoint   string
	cfg        Config
	httpClient *http.Client

	state    FlowState
	resource *ProtectedResourceMetadata
	server   *AuthServerMetadata
	flavor   DiscoveryFlavor
	identity *ClientIdentity

	tokens  Tokens
	invalid bool
}

// NewSession constructs a session for the MCP server at endpoint. The
// configuration is validated eagerly so misconfiguration surfaces before any
// network activity.
func NewSession(endpoint string, cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mcpauth: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	normalized := cfg.withDefaults()
	s := &Session{
		endpoint:   endpoint,
		cfg:        normalized,
		httpClient: &http.Client{Timeout: normalized.HTTPTimeout},
		state:      StateMetadataDiscovery,
	}
	if normalized.InitialTokens != nil {
		s.tokens = *normalized.InitialTokens
		s.state = StateComplete
	}
	return s, nil
}

// State returns the session's current flow state.
func (s *Session) State() FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Strategy returns the negotiated registration strategy, empty until
// registration has run.
func (s *Session) Strategy() RegistrationStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Strategy
}

// Flavor returns which discovery document style succeeded, empty until
// discovery has run.
func (s *Session) Flavor() DiscoveryFlavor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flavor
}

// Tokens returns a copy of the current token set.
func (s *Session) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Programmatic reports whether the session lacks redirect capability.
func (s *Session) Programmatic() bool {
	return s.cfg.OpenURL == nil
}

// Token returns a currently valid access token, refreshing transparently
// when the stored token has expired. Sessions invalidated by a failed
// refresh return ErrAuthenticationExpired until re-authorized.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return "", ErrAuthenticationExpired
	}
	if s.tokens.Valid() {
		return s.tokens.AccessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.tokens.AccessToken, nil
}

// Refresh forces a token refresh regardless of the stored expiry. It is the
// hook used after an unauthorized response from the server.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return ErrAuthenticationExpired
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.tokens.RefreshToken == "" {
		s.invalid = true
		return fmt.Errorf("mcpauth: no refresh token available: %w", ErrAuthenticationExpired)
	}
	if err := s.discoverLocked(ctx); err != nil {
		return err
	}
	conf := s.oauthConfigLocked()
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.tokens.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		s.invalid = true
		return fmt.Errorf("mcpauth: token refresh failed: %v: %w", err, ErrAuthenticationExpired)
	}
	s.storeTokenLocked(tok)
	s.state = StateComplete
	return nil
}

// Authorize runs the full interactive flow: discovery, registration,
// authorization redirect, code capture, and token exchange. Sessions in
// programmatic mode return ErrProgrammaticMode.
func (s *Session) Authorize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.OpenURL == nil {
		return ErrProgrammaticMode
	}

	if err := s.discoverLocked(ctx); err != nil {
		return err
	}

	s.state = StateClientRegistration
	if s.identity == nil {
		strategy, err := chooseStrategy(&s.cfg, s.server)
		if err != nil {
			return err
		}
		identity, err := resolveIdentity(ctx, s.httpClient, &s.cfg, s.server, strategy)
		if err != nil {
			return err
		}
		s.identity = identity
	}

	conf := s.oauthConfigLocked()
	state := uuid.NewString()

	var opts []oauth2.AuthCodeOption
	var verifier string
	if s.server.SupportsPKCE() {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	authorizeURL := conf.AuthCodeURL(state, opts...)

	listener, err := newCallbackListener(s.cfg.RedirectURL)
	if err != nil {
		return err
	}
	defer listener.Close()

	s.state = StateAuthorizationRedirect
	if err := s.cfg.OpenURL(ctx, authorizeURL); err != nil {
		return fmt.Errorf("mcpauth: open authorization URL: %w", err)
	}

	s.state = StateAuthorizationCode
	code, err := listener.Wait(ctx, state)
	if err != nil {
		return err
	}

	s.state = StateTokenRequest
	var exchangeOpts []oauth2.AuthCodeOption
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}
	tok, err := conf.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return fmt.Errorf("mcpauth: token exchange failed: %w", err)
	}
	s.storeTokenLocked(tok)
	s.invalid = false
	s.state = StateComplete
	return nil
}

// discoverLocked resolves resource and authorization-server metadata once,
// caching the result so refreshes skip re-discovery.
func (s *Session) discoverLocked(ctx context.Context) error {
	if s.server != nil {
		return nil
	}
	resource, err := DiscoverResourceMetadata(ctx, s.httpClient, s.endpoint, nil)
	if err != nil {
		return err
	}
	issuer, err := SelectAuthServer(resource, s.cfg.PreferredAuthServer)
	if err != nil {
		return err
	}
	server, flavor, err := DiscoverAuthServerMetadata(ctx, s.httpClient, issuer)
	if err != nil {
		return err
	}
	s.resource = resource
	s.server = server
	s.flavor = flavor
	return nil
}

func (s *Session) oauthConfigLocked() *oauth2.Config {
	conf := &oauth2.Config{
		RedirectURL: s.cfg.RedirectURL,
		Scopes:      s.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.server.AuthorizationEndpoint,
			TokenURL: s.server.TokenEndpoint,
		},
	}
	if s.identity != nil {
		conf.ClientID = s.identity.ClientID
		conf.ClientSecret = s.identity.ClientSecret
	} else {
		conf.ClientID = s.cfg.ClientID
		conf.ClientSecret = s.cfg.ClientSecret
	}
	return conf
}

func (s *Session) storeTokenLocked(tok *oauth2.Token) {
	refresh := tok.RefreshToken
	if refresh == "" {
		// Servers may omit the refresh token on rotation; keep the old one.
		refresh = s.tokens.RefreshToken
	}
	s.tokens = Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		Expiry:       tok.Expiry,
	}
	if s.cfg.OnTokens != nil {
		s.cfg.OnTokens(s.tokens)
	}
}
