package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DiscoveryFlavor records which metadata document style succeeded so a
// resumed session can skip re-probing.
type DiscoveryFlavor string

const (
	DiscoveryOAuth2 DiscoveryFlavor = "oauth2"
	DiscoveryOIDC   DiscoveryFlavor = "oidc"
)

// maxMetadataSize bounds metadata documents fetched from untrusted servers.
const maxMetadataSize = 1 << 20

// ProtectedResourceMetadata is the RFC 9728 discovery document published by
// the MCP server itself.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported,omitempty"`
}

// AuthServerMetadata is the authorization server's metadata document, shaped
// to cover both RFC 8414 and OIDC discovery responses.
type AuthServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	CodeChallengeMethods              []string `json:"code_challenge_methods_supported,omitempty"`
	ClientIDMetadataDocumentSupported bool     `json:"client_id_metadata_document_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// SupportsPKCE reports whether the server advertises the S256 code challenge
// method.
func (m *AuthServerMetadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethods {
		if method == "S256" {
			return true
		}
	}
	return false
}

// Challenge is the parsed content of a WWW-Authenticate response header.
type Challenge struct {
	Scheme              string
	ResourceMetadataURL string
	Scopes              []string
	Error               string
	ErrorDescription    string
}

// ParseChallenge parses a WWW-Authenticate header value, extracting the
// resource_metadata hint and required scopes when present.
func ParseChallenge(header string) (*Challenge, error) {
	if header == "" {
		return nil, fmt.Errorf("mcpauth: empty WWW-Authenticate header")
	}
	parts := strings.SplitN(header, " ", 2)
	ch := &Challenge{Scheme: parts[0]}
	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		ch.ResourceMetadataURL = params["resource_metadata"]
		ch.Error = params["error"]
		ch.ErrorDescription = params["error_description"]
		if scope := params["scope"]; scope != "" {
			ch.Scopes = strings.Fields(scope)
		}
	}
	return ch, nil
}

func parseAuthParams(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitOutsideQuotes(raw, ',') {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 1 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		value = strings.TrimPrefix(value, `"`)
		value = strings.TrimSuffix(value, `"`)
		out[key] = value
	}
	return out
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			inQuotes = !inQuotes
			current.WriteByte(s[i])
		case s[i] == sep && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(s[i])
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// DiscoverResourceMetadata resolves the protected-resource metadata for an
// MCP endpoint. A challenge carrying an explicit resource_metadata URL wins;
// otherwise the RFC 9728 well-known URIs are probed, path-based first.
func DiscoverResourceMetadata(ctx context.Context, client *http.Client, endpoint string, challenge *Challenge) (*ProtectedResourceMetadata, error) {
	if challenge != nil && challenge.ResourceMetadataURL != "" {
		var meta ProtectedResourceMetadata
		if err := fetchMetadata(ctx, client, challenge.ResourceMetadataURL, &meta); err != nil {
			return nil, err
		}
		return &meta, validateResourceMetadata(&meta)
	}

	candidates, err := resourceWellKnownURIs(endpoint)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, candidate := range candidates {
		var meta ProtectedResourceMetadata
		if err := fetchMetadata(ctx, client, candidate, &meta); err != nil {
			lastErr = err
			continue
		}
		if err := validateResourceMetadata(&meta); err != nil {
			lastErr = err
			continue
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("mcpauth: no protected resource metadata found for %s: %w", endpoint, lastErr)
}

func resourceWellKnownURIs(endpoint string) ([]string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("mcpauth: endpoint must be an absolute URL: %q", endpoint)
	}
	base := parsed.Scheme + "://" + parsed.Host
	var uris []string
	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		uris = append(uris, base+"/.well-known/oauth-protected-resource/"+path)
	}
	return append(uris, base+"/.well-known/oauth-protected-resource"), nil
}

func validateResourceMetadata(meta *ProtectedResourceMetadata) error {
	if meta.Resource == "" {
		return fmt.Errorf("mcpauth: resource metadata missing resource field")
	}
	if len(meta.AuthorizationServers) == 0 {
		return fmt.Errorf("mcpauth: resource metadata lists no authorization servers")
	}
	for _, raw := range meta.AuthorizationServers {
		parsed, err := url.Parse(raw)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("mcpauth: invalid authorization server URL %q", raw)
		}
		if parsed.Scheme != "https" && parsed.Scheme != "http" {
			return fmt.Errorf("mcpauth: authorization server URL must be http(s): %q", raw)
		}
	}
	return nil
}

// SelectAuthServer picks the issuer to use from the resource metadata,
// honoring a configured preference.
func SelectAuthServer(meta *ProtectedResourceMetadata, preferred string) (string, error) {
	if preferred != "" {
		for _, server := range meta.AuthorizationServers {
			if server == preferred {
				return server, nil
			}
		}
		return "", fmt.Errorf("mcpauth: preferred authorization server %q not advertised", preferred)
	}
	return meta.AuthorizationServers[0], nil
}

// DiscoverAuthServerMetadata resolves the authorization server's metadata,
// probing the RFC 8414 OAuth document before the OIDC discovery document and
// reporting which flavor succeeded. Issuers with path components get the
// path-inserted forms probed first.
func DiscoverAuthServerMetadata(ctx context.Context, client *http.Client, issuer string) (*AuthServerMetadata, DiscoveryFlavor, error) {
	endpoints, err := authServerMetadataEndpoints(issuer)
	if err != nil {
		return nil, "", err
	}
	var lastErr error
	for _, ep := range endpoints {
		var meta AuthServerMetadata
		if err := fetchMetadata(ctx, client, ep.url, &meta); err != nil {
			lastErr = err
			continue
		}
		if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
			lastErr = fmt.Errorf("mcpauth: metadata from %s missing authorization or token endpoint", ep.url)
			continue
		}
		return &meta, ep.flavor, nil
	}
	return nil, "", fmt.Errorf("mcpauth: no authorization server metadata found for %s: %w", issuer, lastErr)
}

type metadataEndpoint struct {
	url    string
	flavor DiscoveryFlavor
}

func authServerMetadataEndpoints(issuer string) ([]metadataEndpoint, error) {
	parsed, err := url.Parse(issuer)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("mcpauth: issuer must be an absolute URL: %q", issuer)
	}
	base := parsed.Scheme + "://" + parsed.Host
	path := strings.TrimSuffix(parsed.Path, "/")
	if path == "" {
		return []metadataEndpoint{
			{base + "/.well-known/oauth-authorization-server", DiscoveryOAuth2},
			{base + "/.well-known/openid-configuration", DiscoveryOIDC},
		}, nil
	}
	return []metadataEndpoint{
		{base + "/.well-known/oauth-authorization-server" + path, DiscoveryOAuth2},
		{base + "/.well-known/openid-configuration" + path, DiscoveryOIDC},
		{base + path + "/.well-known/openid-configuration", DiscoveryOIDC},
	}, nil
}

// fetchMetadata GETs a JSON discovery document with a size cap, rejecting
// non-200 responses and non-JSON content types.
func fetchMetadata(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("mcpauth: build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mcpauth: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcpauth: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "application/json") {
		return fmt.Errorf("mcpauth: fetch %s: unexpected content type %q", rawURL, ct)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return fmt.Errorf("mcpauth: read %s: %w", rawURL, err)
	}
	if len(body) >= maxMetadataSize {
		return fmt.Errorf("mcpauth: metadata from %s exceeds %d bytes", rawURL, maxMetadataSize)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mcpauth: parse %s: %w", rawURL, err)
	}
	return nil
}
