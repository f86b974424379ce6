package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newScrapeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run source scrapes now",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "all",
			Short: "Scrape every active source in turn",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				core, err := c.core(ctx)
				if err != nil {
					return err
				}
				defer core.Close()

				res, err := core.Ingestion.TriggerScrapeAll(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(res)
			},
		},
		&cobra.Command{
			Use:   "source ID",
			Short: "Scrape one source",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid source id %q: %w", args[0], err)
				}
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				core, err := c.core(ctx)
				if err != nil {
					return err
				}
				defer core.Close()

				res, err := core.Ingestion.TriggerScrape(ctx, id)
				if err != nil {
					return err
				}
				return c.printJSON(res)
			},
		},
	)
	return cmd
}
