// Command registry-example connects a Registry to an MCP server, prints its
// tool surface, and streams notifications until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/and1can/inspector-sub014/pkg/connections"
	"github.com/and1can/inspector-sub014/pkg/toolset"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry := connections.NewRegistry(map[string]connections.ServerConfig{
		"everything": &connections.StdioServerConfig{
			BaseServerConfig: connections.BaseServerConfig{Timeout: 15 * time.Second},
			Command:          "npx",
			Args:             []string{"@modelcontextprotocol/server-everything"},
		},
	}, &connections.Options{
		ClientName: "registry-example",
		Logger:     logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.DisconnectAll(shutdownCtx); err != nil {
			logger.Error("disconnect failed", "error", err)
		}
	}()

	registry.Dispatcher().AddHandler("everything", connections.CategoryToolListChanged,
		func(ctx context.Context, n connections.Notification) {
			logger.Info("tool list changed", "server", n.Server)
		})

	if _, err := registry.Connect(ctx, "everything", nil); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	tools := toolset.New(registry, &toolset.Options{Logger: logger})
	if err := tools.Refresh(ctx); err != nil {
		logger.Error("tool refresh failed", "error", err)
		os.Exit(1)
	}
	for _, tool := range tools.Tools() {
		fmt.Printf("%s\t%s\n", tool.Name, tool.Description)
	}

	for _, summary := range registry.Summaries(ctx) {
		fmt.Printf("server %s: %s\n", summary.Name, summary.State)
	}

	<-ctx.Done()
}
