// Command hitl is the human-in-the-loop approval gateway. Agents call tools
// over MCP; sensitive calls wait until an operator approves, edits or denies
// them from the web UI, the REST API or the message bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/hitl/internal/config"
	"github.com/Strob0t/hitl/internal/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hitl",
		Short: "Human-in-the-loop approval gateway for AI agents",
		Long: `hitl pauses sensitive agent tool calls until a human approves, edits or
denies them, and relays questions from the agent to the operator.

Run without a subcommand to start the server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.BindFlags(root.PersistentFlags())

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, WebSocket and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog()
			return runServer(cmd.Context(), cfg)
		},
	}
	root.RunE = serve.RunE
	root.Args = cobra.NoArgs

	root.AddCommand(serve, newMigrateCmd(flags))
	return root
}

// setup loads the configuration and installs the default logger.
func setup(flags *config.FlagBinding) (*config.Config, func(), error) {
	cfg, path, err := config.LoadWithCLI(flags.Resolve())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"file", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"mcp", cfg.MCP.Enabled,
		"nats", cfg.NATS.URL != "",
		"postgres", cfg.Postgres.DSN != "",
		"otel", cfg.OTEL.Enabled,
	)
	return cfg, closer.Close, nil
}
