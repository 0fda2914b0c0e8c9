package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/prior-auth-rag/internal/adapters/mcp"
	"github.com/kirillkom/prior-auth-rag/internal/bootstrap"
	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/observability/logging"
)

func newMCPCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve evaluation tools over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
trigger_evaluation, get_evaluation and ingest_text tools.

The server connects to the same backends as the API (POSTGRES_DSN, VECTOR_BACKEND,
LLM_BACKEND, ...). Logs go to stderr.

Client configuration:
  {
    "mcpServers": {
      "prior-auth": {"command": "/path/to/pactl", "args": ["mcp"]}
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "prior-auth-mcp", cfg.LogLevel))

			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Service: "prior-auth-mcp"})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			serveErr := mcpadapter.New(version, app.Evaluations, app.Ingestor).ServeStdio()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				slog.Error("evaluations_shutdown_failed", "error", err)
			}
			return serveErr
		},
	}
}
