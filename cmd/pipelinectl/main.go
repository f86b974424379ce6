// Command pipelinectl is the operator CLI: schema migrations, source imports,
// manual scrapes and article control without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/article-pipeline-service/internal/app"
	"github.com/helixir/article-pipeline-service/internal/config"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by subcommands.
type cli struct {
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
	debug  bool
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}

	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the article generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			logCfg := observability.DefaultLoggingConfig()
			logCfg.Format = "console"
			logCfg.Output = "stderr"
			if c.debug {
				logCfg.Level = "debug"
			}
			c.logger = observability.NewLogger(logCfg).With().Str("component", "pipelinectl").Logger()
			c.out = cmd.OutOrStdout()
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newMigrateCmd(c),
		newSourcesCmd(c),
		newScrapeCmd(c),
		newArticleCmd(c),
	)
	return root
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// core builds the shared components for commands that touch the pipeline.
func (c *cli) core(ctx context.Context) (*app.Core, error) {
	return app.NewCore(ctx, c.cfg, c.logger)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
