// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/miraiminds/rouh/internal/agent"
	"github.com/miraiminds/rouh/internal/browser"
	"github.com/miraiminds/rouh/internal/config"
	"github.com/miraiminds/rouh/internal/cron"
	"github.com/miraiminds/rouh/internal/dispatch"
	"github.com/miraiminds/rouh/internal/llm"
	"github.com/miraiminds/rouh/internal/mcphub"
	"github.com/miraiminds/rouh/internal/observability"
	"github.com/miraiminds/rouh/internal/server"
)

// newServeCommand builds the serve subcommand, which stands up the full
// agent stack and blocks until the process is signalled.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP server and the cron scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// runServe wires every subsystem together and blocks until ctx is done.
// The construction order matters: the websocket hub must exist before the
// browser executor (screenshots broadcast through it), and the agent before
// the cron manager (scheduled jobs replay through the agent loop).
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	hub := server.NewHub(logger)

	browserMgr := browser.NewManager(cfg.Browser, logger)
	defer browserMgr.Close()
	executor := browser.NewExecutor(browserMgr, hub, logger)

	tools := mcphub.NewHub(cfg.MCP, logger)
	tools.ConnectAll(ctx, cfg.MCP.Servers)
	defer tools.Close()

	store, err := cron.NewStore(cfg.Cron.StorePath)
	if err != nil {
		return fmt.Errorf("opening cron store: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("constructing LLM client: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(executor, tools, store, logger)
	ag := agent.New(llmClient, dispatcher, tools, logger)

	cronMgr := cron.NewManager(store, ag, cfg.Cron, logger)
	go cronMgr.Run(ctx)

	srv := server.New(cfg.Server, ag, hub, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
