// Command loom runs the multi-tenant agent runtime: the REST/WebSocket API,
// the channel webhook pipeline, and the task scheduler.
//
// Start the server:
//
//	loom serve
//
// Validate project configuration files:
//
//	loom validate ./projects
//
// Configuration comes from the environment (optionally via .env):
//
//   - HOST, PORT: API bind address (default 0.0.0.0:8080)
//   - DATABASE_URL: SQLite path; empty keeps state in memory
//   - REDIS_URL: Redis broker for queues; empty uses the in-process queue
//   - SECRETS_ENCRYPTION_KEY: 32-byte master key (hex or base64) for the
//     secret service; required for channel integrations
//   - PROJECTS_DIR: directory of per-project JSON configs loaded at startup
//   - Provider API keys as referenced by project configs
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loom",
		Short:        "Loom - multi-tenant autonomous agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
	)
	return root
}
