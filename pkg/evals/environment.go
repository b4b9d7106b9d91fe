package evals

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/and1can/inspector-sub014/pkg/connections"
	"github.com/and1can/inspector-sub014/pkg/mcpauth"
)

// Environment is the resolved execution context for a test run: the server
// configurations tests may select, and the API keys agents may need.
type Environment struct {
	Servers map[string]connections.ServerConfig
	APIKeys map[string]string
}

// environmentFile is the on-disk JSON shape. Each server entry is either a
// stdio launch spec or an HTTP endpoint; the presence of "url" decides.
type environmentFile struct {
	Servers map[string]serverEntry `json:"servers"`
	APIKeys map[string]string      `json:"apiKeys"`
}

type serverEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	OAuth   *oauthEntry       `json:"oauth,omitempty"`

	Timeout durationJSON `json:"timeout,omitempty"`
}

// oauthEntry carries the non-interactive subset of mcpauth.Config an
// environment file can express. Interactive hooks cannot live in a file, so
// file-sourced sessions run programmatically off seeded tokens.
type oauthEntry struct {
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
}

type durationJSON time.Duration

func (d *durationJSON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = durationJSON(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", data)
	}
	*d = durationJSON(time.Duration(secs * float64(time.Second)))
	return nil
}

// LoadEnvironment reads and resolves an environment file from disk.
func LoadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evals: read environment: %w", err)
	}
	return ParseEnvironment(data)
}

// ParseEnvironment decodes an environment file and resolves API keys against
// the process environment: a value naming a set environment variable resolves
// to that variable's contents, anything else is taken literally.
func ParseEnvironment(data []byte) (*Environment, error) {
	var file environmentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("evals: decode environment: %w", err)
	}

	env := &Environment{
		Servers: make(map[string]connections.ServerConfig, len(file.Servers)),
		APIKeys: make(map[string]string, len(file.APIKeys)),
	}

	for name, entry := range file.Servers {
		cfg, err := entry.toConfig()
		if err != nil {
			return nil, &ValidationError{Field: "servers." + name, Reason: err.Error()}
		}
		env.Servers[name] = cfg
	}

	for name, value := range file.APIKeys {
		if fromEnv := os.Getenv(value); fromEnv != "" {
			env.APIKeys[name] = fromEnv
			continue
		}
		env.APIKeys[name] = value
	}

	return env, nil
}

func (e serverEntry) toConfig() (connections.ServerConfig, error) {
	base := connections.BaseServerConfig{Timeout: time.Duration(e.Timeout)}

	if e.URL != "" {
		if e.Command != "" {
			return nil, fmt.Errorf("entry declares both url and command")
		}
		cfg := &connections.HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         e.URL,
		}
		if len(e.Headers) > 0 {
			cfg.Headers = make(http.Header, len(e.Headers))
			for key, value := range e.Headers {
				cfg.Headers.Set(key, value)
			}
		}
		if e.OAuth != nil {
			auth, err := e.OAuth.toConfig()
			if err != nil {
				return nil, err
			}
			cfg.OAuth = auth
		}
		return cfg, nil
	}

	if e.Command == "" {
		return nil, fmt.Errorf("entry needs either url or command")
	}
	return &connections.StdioServerConfig{
		BaseServerConfig: base,
		Command:          e.Command,
		Args:             e.Args,
		Env:              e.Env,
	}, nil
}

func (o *oauthEntry) toConfig() (*mcpauth.Config, error) {
	if o.AccessToken == "" {
		return nil, fmt.Errorf("oauth entry needs an accessToken for programmatic use")
	}
	return &mcpauth.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Scopes:       o.Scopes,
		InitialTokens: &mcpauth.Tokens{
			AccessToken:  o.AccessToken,
			RefreshToken: o.RefreshToken,
		},
	}, nil
}
