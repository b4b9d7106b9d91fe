package mcpauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ClientIdentity is the resolved client credential set, however it was
// established.
type ClientIdentity struct {
	Strategy     RegistrationStrategy
	ClientID     string
	ClientSecret string
}

// registrationRequest is the RFC 7591 dynamic registration payload.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// chooseStrategy decides the registration strategy for a session given its
// configuration, the negotiated protocol revision, and the discovered server
// metadata. Pre-registered credentials always win. The 2025-06-18 revision
// prefers client ID metadata documents when the server supports them; dynamic
// registration is the fallback whenever the server exposes a registration
// endpoint.
func chooseStrategy(cfg *Config, meta *AuthServerMetadata) (RegistrationStrategy, error) {
	if cfg.ClientID != "" {
		return StrategyPreRegistered, nil
	}
	if cfg.ClientIDMetadataURL != "" {
		if cfg.ProtocolVersion == ProtocolVersion20250618 && meta.ClientIDMetadataDocumentSupported {
			return StrategyClientIDMetadata, nil
		}
		if meta.RegistrationEndpoint == "" {
			// Server forbids dynamic registration; the metadata document is
			// the only remaining path even without an explicit capability bit.
			return StrategyClientIDMetadata, nil
		}
	}
	if meta.RegistrationEndpoint != "" {
		return StrategyDynamic, nil
	}
	return "", fmt.Errorf("mcpauth: no viable registration strategy: server offers neither dynamic registration nor client_id metadata support, and no pre-registered client was supplied")
}

// resolveIdentity establishes the client identity for the chosen strategy,
// performing network registration only for StrategyDynamic.
func resolveIdentity(ctx context.Context, client *http.Client, cfg *Config, meta *AuthServerMetadata, strategy RegistrationStrategy) (*ClientIdentity, error) {
	switch strategy {
	case StrategyPreRegistered:
		return &ClientIdentity{Strategy: strategy, ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}, nil
	case StrategyClientIDMetadata:
		if err := validateClientIDURL(cfg.ClientIDMetadataURL); err != nil {
			return nil, err
		}
		// The URL itself is the client identifier; the authorization server
		// fetches the metadata document on its side.
		return &ClientIdentity{Strategy: strategy, ClientID: cfg.ClientIDMetadataURL}, nil
	case StrategyDynamic:
		return registerDynamicClient(ctx, client, cfg, meta)
	default:
		return nil, fmt.Errorf("mcpauth: unknown registration strategy %q", strategy)
	}
}

func registerDynamicClient(ctx context.Context, client *http.Client, cfg *Config, meta *AuthServerMetadata) (*ClientIdentity, error) {
	if meta.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("mcpauth: server does not expose a registration endpoint")
	}
	payload := registrationRequest{
		ClientName:              "inspector",
		RedirectURIs:            []string{cfg.RedirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	if len(cfg.Scopes) > 0 {
		payload.Scope = joinScopes(cfg.Scopes)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpauth: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: dynamic registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mcpauth: dynamic registration failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var reg registrationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataSize)).Decode(&reg); err != nil {
		return nil, fmt.Errorf("mcpauth: parse registration response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("mcpauth: registration response missing client_id")
	}
	return &ClientIdentity{Strategy: StrategyDynamic, ClientID: reg.ClientID, ClientSecret: reg.ClientSecret}, nil
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
