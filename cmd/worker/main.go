// Package main provides the entry point for the article pipeline worker. It
// runs the Temporal worker together with the outbox relay, the Kafka topic
// intake and the scrape scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/article-pipeline-service/internal/app"
	"github.com/helixir/article-pipeline-service/internal/config"
	"github.com/helixir/article-pipeline-service/internal/ingestion"
	"github.com/helixir/article-pipeline-service/internal/intake"
	"github.com/helixir/article-pipeline-service/internal/outbox"
	"github.com/helixir/article-pipeline-service/internal/temporal"
	"github.com/helixir/article-pipeline-service/internal/temporal/activities"
	"github.com/helixir/article-pipeline-service/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg, "worker")
	logger.Info().Msg("article-pipeline-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	temporalCfg := temporal.ClientConfig{
		HostPort:     cfg.Temporal.HostPort,
		Namespace:    cfg.Temporal.Namespace,
		TaskQueue:    cfg.Temporal.TaskQueue,
		StageTimeout: cfg.Pipeline.StageTimeout,
	}
	temporalClient, err := temporal.NewClient(temporalCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	workflowClient := temporal.NewArticleWorkflowClient(temporalClient, temporalCfg, core.Articles, workflows.ArticleGenerationWorkflow)
	defer workflowClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	workerConfig := temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue)
	if cfg.Temporal.MaxConcurrentActivities > 0 {
		workerConfig.MaxConcurrentActivities = cfg.Temporal.MaxConcurrentActivities
	}
	manager, err := temporal.NewWorkerManager(temporalClient, workerConfig)
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	manager.RegisterWorkflow(workflows.ArticleGenerationWorkflow)
	manager.RegisterActivity(activities.NewPipelineActivities(core.Pipeline, core.Articles))
	manager.RegisterActivity(activities.NewEventActivities(core.Events))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("task_queue", manager.TaskQueue()).Msg("starting temporal worker")
		if err := manager.Run(gctx); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		writer := outbox.NewKafkaWriter(cfg.Kafka)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close kafka writer")
			}
		}()
		relay := outbox.NewRelay(core.DB.Pool(), core.OutboxRepo, writer, outbox.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		}, logger, core.Metrics)
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		logger.Warn().Msg("kafka disabled; outbox events stay pending")
	}

	if cfg.Intake.Enabled {
		enqueuer := intake.NewEnqueuer(core.UnitOfWork, core.Events, workflowClient, core.Metrics, logger)
		listener := intake.NewListener(intake.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Intake.Topic,
			GroupID: cfg.Intake.GroupID,
		}, enqueuer, core.Metrics, logger)
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close intake listener")
			}
		}()
		g.Go(func() error { return listener.Run(gctx) })
		logger.Info().
			Str("topic", cfg.Intake.Topic).
			Str("group_id", cfg.Intake.GroupID).
			Msg("topic intake listener started")
	}

	if cfg.Ingestion.SchedulerEnabled {
		scheduler := ingestion.NewScheduler(core.Sources, core.Ingestion, cfg.Ingestion.SchedulerRefresh, logger)
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return err
	}

	logger.Info().Msg("article-pipeline-service worker stopped")
	return nil
}
