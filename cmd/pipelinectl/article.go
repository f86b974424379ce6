package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/article-pipeline-service/internal/app"
	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/temporal"
	"github.com/helixir/article-pipeline-service/internal/temporal/workflows"
)

type articleFunc func(ctx context.Context, core *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error

// runArticle parses the article id and connects to the database and Temporal.
func (c *cli) runArticle(fn articleFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid article id %q: %w", args[0], err)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		core, err := c.core(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		tcfg := temporal.ClientConfig{
			HostPort:     c.cfg.Temporal.HostPort,
			Namespace:    c.cfg.Temporal.Namespace,
			TaskQueue:    c.cfg.Temporal.TaskQueue,
			StageTimeout: c.cfg.Pipeline.StageTimeout,
		}
		tc, err := temporal.NewClient(tcfg, c.logger)
		if err != nil {
			return fmt.Errorf("connect to temporal: %w", err)
		}
		wf := temporal.NewArticleWorkflowClient(tc, tcfg, core.Articles, workflows.ArticleGenerationWorkflow)
		defer wf.Close()

		return fn(ctx, core, wf, id)
	}
}

func newArticleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "article",
		Short: "Control generation of one article",
	}

	var stage string
	retry := &cobra.Command{
		Use:   "retry ID",
		Short: "Rerun a failed article from a stage, its failed stage by default",
		Args:  cobra.ExactArgs(1),
		RunE: c.runArticle(func(ctx context.Context, core *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error {
			a, err := core.Articles.Get(ctx, id)
			if err != nil {
				return err
			}
			var from domain.Stage
			switch {
			case stage != "":
				if from, err = domain.ParseStage(stage); err != nil {
					return err
				}
			case a.FailedStage != nil:
				from = *a.FailedStage
			default:
				return domain.NewInvalidStateError("article", id.String(), "retry", string(a.Status))
			}

			a, err = core.Pipeline.RetryStage(ctx, id, from)
			if err != nil {
				return err
			}
			if err := wf.StartArticle(ctx, id); err != nil && !temporal.IsWorkflowAlreadyStarted(err) {
				return err
			}
			return c.printJSON(a)
		}),
	}
	retry.Flags().StringVar(&stage, "stage", "", "Stage to restart from")

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a queued or generating article",
		Args:  cobra.ExactArgs(1),
		RunE: c.runArticle(func(ctx context.Context, core *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error {
			a, err := core.Pipeline.Cancel(ctx, id, reason)
			if err != nil {
				return err
			}
			if err := signalCancel(ctx, wf, a.WorkflowID, reason); err != nil {
				return err
			}
			return c.printJSON(a)
		}),
	}
	cancel.Flags().StringVar(&reason, "reason", "cancelled by operator", "Cancellation reason")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show ID",
			Short: "Print an article and its workflow progress",
			Args:  cobra.ExactArgs(1),
			RunE: c.runArticle(func(ctx context.Context, core *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error {
				a, err := core.Articles.Get(ctx, id)
				if err != nil {
					return err
				}
				out := struct {
					Article  *domain.GenerationArticle  `json:"article"`
					Progress *temporal.WorkflowProgress `json:"progress,omitempty"`
				}{Article: a}
				if a.Status == domain.ArticleStatusGenerating && a.WorkflowID != "" {
					if p, err := wf.QueryProgress(ctx, a.WorkflowID); err == nil {
						out.Progress = p
					} else {
						c.logger.Debug().Err(err).Msg("progress query failed")
					}
				}
				return c.printJSON(out)
			}),
		},
		&cobra.Command{
			Use:   "start ID",
			Short: "Start generation of a queued article",
			Args:  cobra.ExactArgs(1),
			RunE: c.runArticle(func(ctx context.Context, _ *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error {
				if err := wf.StartArticle(ctx, id); err != nil {
					return err
				}
				c.logger.Info().Str("article_id", id.String()).Msg("generation started")
				return nil
			}),
		},
		retry,
		cancel,
		&cobra.Command{
			Use:   "run ID",
			Short: "Generate a queued article inline, without Temporal",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid article id %q: %w", args[0], err)
				}
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				core, err := c.core(ctx)
				if err != nil {
					return err
				}
				defer core.Close()

				a, err := core.Articles.Get(ctx, id)
				if err != nil {
					return err
				}
				if a.Status == domain.ArticleStatusQueued {
					if _, err := core.Pipeline.Start(ctx, id); err != nil {
						return err
					}
				}
				a, err = core.Pipeline.RunToCompletion(ctx, id)
				if err != nil {
					return err
				}
				return c.printJSON(a)
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete an article, stopping its workflow first",
			Args:  cobra.ExactArgs(1),
			RunE: c.runArticle(func(ctx context.Context, core *app.Core, wf *temporal.ArticleWorkflowClient, id uuid.UUID) error {
				a, err := core.Articles.Get(ctx, id)
				if err != nil {
					return err
				}
				if a.Status == domain.ArticleStatusGenerating {
					if err := signalCancel(ctx, wf, a.WorkflowID, "article deleted"); err != nil {
						return err
					}
				}
				if err := core.Pipeline.Delete(ctx, id); err != nil {
					return err
				}
				c.logger.Info().Str("article_id", id.String()).Msg("article deleted")
				return nil
			}),
		},
	)
	return cmd
}

// signalCancel tells a running workflow to stop. Finished runs are ignored.
func signalCancel(ctx context.Context, wf *temporal.ArticleWorkflowClient, workflowID, reason string) error {
	if workflowID == "" {
		return nil
	}
	if err := wf.CancelWorkflow(ctx, workflowID, reason); err != nil && !temporal.IsWorkflowNotFound(err) {
		return err
	}
	return nil
}
