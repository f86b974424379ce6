// Package temporal runs article generation on Temporal.
//
// One workflow run exists per article generation cycle and retry, named by
// WorkflowID. The run advances the article one stage per activity until the
// article leaves the generating status; the pipeline package owns all state
// changes, so a workflow can be lost and restarted without corrupting the
// article.
//
// # Client
//
//	c, err := temporal.NewClient(cfg, logger)
//	wc := temporal.NewArticleWorkflowClient(c, cfg, articles, workflows.ArticleGenerationWorkflow)
//	err = wc.StartArticle(ctx, articleID)
//
// Starting a cycle that already has a run returns an error matching
// IsWorkflowAlreadyStarted.
//
// # Worker
//
//	m, err := temporal.NewWorkerManager(c, temporal.DefaultWorkerConfig(cfg.TaskQueue))
//	m.RegisterWorkflow(workflows.ArticleGenerationWorkflow)
//	m.RegisterActivity(activities.NewPipelineActivities(p, articles))
//	m.RegisterActivity(activities.NewEventActivities(outboxAdapter))
//	err = m.Run(ctx)
//
// # Signals and queries
//
// SignalCancel (payload CancelSignal) cancels the article and ends the run.
// QueryProgress returns a WorkflowProgress snapshot.
package temporal
