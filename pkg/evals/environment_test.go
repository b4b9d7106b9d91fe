package evals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and1can/inspector-sub014/pkg/connections"
)

func TestParseEnvironment(t *testing.T) {
	t.Setenv("EVALS_TEST_KEY", "sk-from-env")

	env, err := ParseEnvironment([]byte(`{
		"servers": {
			"local": {
				"command": "everything-server",
				"args": ["--stdio"],
				"env": {"DEBUG": "1"},
				"timeout": "45s"
			},
			"remote": {
				"url": "https://mcp.example.com/mcp",
				"headers": {"X-Team": "evals"},
				"oauth": {
					"clientId": "client-1",
					"accessToken": "token-1",
					"refreshToken": "refresh-1"
				}
			}
		},
		"apiKeys": {
			"anthropic": "EVALS_TEST_KEY",
			"literal": "sk-literal-value"
		}
	}`))
	require.NoError(t, err)

	stdio, ok := env.Servers["local"].(*connections.StdioServerConfig)
	require.True(t, ok, "local should be a stdio config")
	assert.Equal(t, "everything-server", stdio.Command)
	assert.Equal(t, []string{"--stdio"}, stdio.Args)
	assert.Equal(t, map[string]string{"DEBUG": "1"}, stdio.Env)
	assert.Equal(t, 45*time.Second, stdio.Timeout)

	remote, ok := env.Servers["remote"].(*connections.HTTPServerConfig)
	require.True(t, ok, "remote should be an http config")
	assert.Equal(t, "https://mcp.example.com/mcp", remote.Endpoint)
	assert.Equal(t, "evals", remote.Headers.Get("X-Team"))
	require.NotNil(t, remote.OAuth)
	assert.Equal(t, "client-1", remote.OAuth.ClientID)
	require.NotNil(t, remote.OAuth.InitialTokens)
	assert.Equal(t, "token-1", remote.OAuth.InitialTokens.AccessToken)
	assert.Equal(t, "refresh-1", remote.OAuth.InitialTokens.RefreshToken)

	// Values naming a set env var resolve through it; others stay literal.
	assert.Equal(t, "sk-from-env", env.APIKeys["anthropic"])
	assert.Equal(t, "sk-literal-value", env.APIKeys["literal"])
}

func TestParseEnvironmentRejectsAmbiguousEntries(t *testing.T) {
	t.Parallel()

	_, err := ParseEnvironment([]byte(`{"servers": {"bad": {"command": "x", "url": "http://y"}}}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Field, "servers.bad")

	_, err = ParseEnvironment([]byte(`{"servers": {"empty": {}}}`))
	require.ErrorAs(t, err, &verr)

	_, err = ParseEnvironment([]byte(`{"servers": {"auth": {"url": "http://y", "oauth": {"clientId": "c"}}}}`))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "accessToken")
}

func TestParseEnvironmentNumericTimeout(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvironment([]byte(`{"servers": {"s": {"command": "x", "timeout": 2.5}}}`))
	require.NoError(t, err)
	stdio := env.Servers["s"].(*connections.StdioServerConfig)
	assert.Equal(t, 2500*time.Millisecond, stdio.Timeout)
}
