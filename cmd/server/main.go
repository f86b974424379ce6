// Package main provides the entry point for the article pipeline API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/helixir/article-pipeline-service/internal/app"
	"github.com/helixir/article-pipeline-service/internal/config"
	"github.com/helixir/article-pipeline-service/internal/intake"
	"github.com/helixir/article-pipeline-service/internal/publish"
	"github.com/helixir/article-pipeline-service/internal/review"
	"github.com/helixir/article-pipeline-service/internal/server"
	httpserver "github.com/helixir/article-pipeline-service/internal/server/http"
	"github.com/helixir/article-pipeline-service/internal/temporal"
	"github.com/helixir/article-pipeline-service/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development reads secrets from .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg, "server")
	logger.Info().Msg("article-pipeline-service server starting")

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
		Str("task_queue", workflowClient.TaskQueue()).
		Msg("temporal client connected")

	reviewDeps := review.Dependencies{
		Articles: core.Articles,
		Locker:   core.Locker,
		Events:   core.Events,
		Starter:  workflowClient,
		Metrics:  core.Metrics,
		Logger:   logger,
	}
	if cfg.Publish.Bucket != "" {
		store, err := publish.NewS3Store(ctx, publish.Config{
			Bucket:        cfg.Publish.Bucket,
			Region:        cfg.Publish.Region,
			Profile:       cfg.Publish.Profile,
			Prefix:        cfg.Publish.Prefix,
			PublicBaseURL: cfg.Publish.PublicBaseURL,
			UsePathStyle:  cfg.Publish.UsePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("create content store: %w", err)
		}
		reviewDeps.Content = store
	} else {
		logger.Warn().Msg("publish bucket not configured; publishing is disabled")
	}

	enqueuer := intake.NewEnqueuer(core.UnitOfWork, core.Events, workflowClient, core.Metrics, logger)

	readiness := map[string]func(context.Context) error{
		"temporal": workflowClient.Health,
	}
	checks := map[string]server.Check{
		"database": core.DBHealth,
		"temporal": workflowClient.Health,
	}
	if redisHealth := core.RedisHealth(); redisHealth != nil {
		readiness["redis"] = redisHealth
		checks["redis"] = redisHealth
	}

	deps := httpserver.Dependencies{
		Articles:  core.Articles,
		Pipeline:  core.Pipeline,
		Review:    review.NewWorkflow(reviewDeps),
		Enqueuer:  enqueuer,
		Workflows: workflowClient,
		Sources:   core.Sources,
		Scraped:   core.Scraped,
		Ingestion: core.Ingestion,
		Configs:   core.Configs,
		DB:        core.DB,
		Readiness: readiness,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps, logger)

	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}
	healthSrv := server.NewHealthServer(checks, server.DefaultProbeInterval, logger)

	errCh := make(chan error, 2)

	go func() {
		if err := healthSrv.Serve(ctx, grpcListener); err != nil {
			errCh <- err
		}
	}()

	go func() {
		logger.Info().
			Str("address", cfg.Server.HTTPAddress()).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", cfg.Server.HTTPAddress()).
		Msg("article-pipeline-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down article-pipeline-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	healthSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("article-pipeline-service shutdown complete")
	return nil
}
