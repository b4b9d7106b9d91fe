package mcpauth

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// RegistrationStrategy identifies how the client establishes its identity
// with the authorization server.
type RegistrationStrategy string

const (
	// StrategyDynamic performs RFC 7591 dynamic client registration.
	StrategyDynamic RegistrationStrategy = "dynamic"
	// StrategyClientIDMetadata uses an HTTPS client_id URL pointing at a
	// client ID metadata document, for servers that forbid dynamic
	// registration.
	StrategyClientIDMetadata RegistrationStrategy = "client_id_metadata"
	// StrategyPreRegistered uses a statically supplied client id and secret.
	StrategyPreRegistered RegistrationStrategy = "pre_registered"
)

// ProtocolVersion names an MCP authorization protocol revision. The revision
// determines which registration strategies are acceptable.
type ProtocolVersion string

const (
	ProtocolVersion20250326 ProtocolVersion = "2025-03-26"
	ProtocolVersion20250618 ProtocolVersion = "2025-06-18"
)

// Tokens holds the credential material for one session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// expiryMargin refreshes tokens slightly before their recorded expiry to
// absorb clock skew between client and authorization server.
const expiryMargin = 30 * time.Second

// Valid reports whether the access token is present and unexpired.
func (t Tokens) Valid() bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Now().Add(expiryMargin).Before(t.Expiry)
}

// OpenURLFunc asks the embedding application to present an authorization URL
// to the user, typically by opening a browser.
type OpenURLFunc func(ctx context.Context, authorizeURL string) error

// RefreshCallback is invoked with the new token pair after every successful
// token exchange or refresh so the embedding application can persist it.
type RefreshCallback func(Tokens)

// Config declares how a session authorizes. The zero value is not usable;
// either redirect capability (OpenURL plus RedirectURL) or pre-obtained
// tokens must be supplied.
type Config struct {
	// ClientID and ClientSecret select the pre_registered strategy when both
	// are present (secret optional for public clients).
	ClientID     string
	ClientSecret string

	// ClientIDMetadataURL is an HTTPS URL identifying this client via a
	// client ID metadata document. Selects the client_id_metadata strategy
	// when the server advertises support.
	ClientIDMetadataURL string

	// Scopes to request. Defaults to the MCP tool and resource scopes.
	Scopes []string

	// RedirectURL receives the authorization code. Must be https, or http on
	// a loopback host.
	RedirectURL string

	// PreferredAuthServer picks among multiple advertised authorization
	// servers; the first advertised server is used when empty.
	PreferredAuthServer string

	// ProtocolVersion pins the authorization protocol revision. Defaults to
	// ProtocolVersion20250618.
	ProtocolVersion ProtocolVersion

	// OpenURL presents the authorization URL to the user. A nil OpenURL puts
	// the session in programmatic mode: no redirect-based authorization is
	// ever attempted.
	OpenURL OpenURLFunc

	// OnTokens, when non-nil, is invoked after each successful exchange or
	// refresh with the new token pair.
	OnTokens RefreshCallback

	// InitialTokens seeds the session with pre-obtained credentials
	// (programmatic mode).
	InitialTokens *Tokens

	// HTTPTimeout bounds individual metadata and registration requests.
	// Defaults to 10 seconds.
	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"mcp:tools", "mcp:resources"}
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = ProtocolVersion20250618
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return cfg
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	if c.OpenURL == nil && c.InitialTokens == nil {
		return fmt.Errorf("mcpauth: either OpenURL or InitialTokens is required")
	}
	if c.OpenURL != nil {
		if c.RedirectURL == "" {
			return fmt.Errorf("mcpauth: redirect URL is required for interactive authorization")
		}
		if err := validateRedirectURL(c.RedirectURL); err != nil {
			return err
		}
	}
	if c.ClientIDMetadataURL != "" {
		if err := validateClientIDURL(c.ClientIDMetadataURL); err != nil {
			return err
		}
	}
	return nil
}

// validateRedirectURL permits https anywhere and http only on loopback hosts.
func validateRedirectURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("mcpauth: invalid redirect URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("mcpauth: http redirect URLs are only allowed for loopback hosts, got %q", host)
	default:
		return fmt.Errorf("mcpauth: redirect URL scheme must be http (loopback) or https, got %q", parsed.Scheme)
	}
}

// validateClientIDURL enforces the client ID metadata document requirements:
// an absolute https URL with a non-trivial path component.
func validateClientIDURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("mcpauth: invalid client_id URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("mcpauth: client_id URL must be absolute: %q", raw)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("mcpauth: client_id URL must use https, got %q", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return fmt.Errorf("mcpauth: client_id URL must contain a path component: %q", raw)
	}
	return nil
}
