package connections

import "testing"

func TestTransportOf(t *testing.T) {
	t.Parallel()

	stdio := &StdioServerConfig{Command: "npx"}
	httpCfg := &HTTPServerConfig{Endpoint: "https://example.com/mcp"}

	if got := TransportOf(stdio); got != TransportStdio {
		t.Fatalf("TransportOf(stdio) = %q", got)
	}
	if got := TransportOf(httpCfg); got != TransportHTTP {
		t.Fatalf("TransportOf(http) = %q", got)
	}
	if got := TransportOf(nil); got != "" {
		t.Fatalf("TransportOf(nil) = %q, expected empty", got)
	}
}

func TestNarrowingHelpers(t *testing.T) {
	t.Parallel()

	stdio := &StdioServerConfig{Command: "npx"}
	httpCfg := &HTTPServerConfig{Endpoint: "https://example.com/mcp"}

	if !IsStdio(stdio) || IsStdio(httpCfg) {
		t.Fatalf("IsStdio misclassified configs")
	}
	if !IsHTTP(httpCfg) || IsHTTP(stdio) {
		t.Fatalf("IsHTTP misclassified configs")
	}

	if narrowed, ok := AsStdio(stdio); !ok || narrowed.Command != "npx" {
		t.Fatalf("AsStdio failed to narrow")
	}
	if _, ok := AsStdio(httpCfg); ok {
		t.Fatalf("AsStdio narrowed an http config")
	}
	if narrowed, ok := AsHTTP(httpCfg); !ok || narrowed.Endpoint != "https://example.com/mcp" {
		t.Fatalf("AsHTTP failed to narrow")
	}
	if _, ok := AsHTTP(stdio); ok {
		t.Fatalf("AsHTTP narrowed a stdio config")
	}
}
