// Package app assembles the service's components from configuration. The
// server, worker and pipelinectl commands share one Core and add their own
// runtimes on top.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/config"
	"github.com/helixir/article-pipeline-service/internal/database"
	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/httpclient"
	"github.com/helixir/article-pipeline-service/internal/ingestion"
	"github.com/helixir/article-pipeline-service/internal/ingestion/scraper"
	"github.com/helixir/article-pipeline-service/internal/lease"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
	"github.com/helixir/article-pipeline-service/internal/provider"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

// ServiceName is recorded as the source of every outbox event.
const ServiceName = "article-pipeline-service"

// providerMaxRetries is the retry budget per gateway call on 429 and 5xx.
const providerMaxRetries = 2

// Core holds the components every command needs.
type Core struct {
	Config  *config.Config
	Logger  zerolog.Logger
	DB      *database.DB
	Metrics *observability.Metrics

	Articles   *repository.PgArticleRepository
	Keywords   *repository.PgKeywordRepository
	Sources    *repository.PgSourceConfigRepository
	Scraped    *repository.PgScrapedArticleRepository
	Configs    *repository.PgGenerationConfigRepository
	UnitOfWork *repository.PgUnitOfWork

	OutboxRepo *outbox.PgRepository
	Events     *outbox.Publisher
	Locker     lease.Locker

	Invokers  *pipeline.InvokerRegistry
	Pipeline  *pipeline.Pipeline
	Ingestion *ingestion.Service

	redis redis.UniversalClient
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config, component string) zerolog.Logger {
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	return logger.With().Str("component", component).Logger()
}

// NewCore connects to PostgreSQL and Redis and builds the repositories,
// event publisher, provider registry, pipeline and ingestion service. The
// active generation config is seeded from the pipeline defaults when none
// is stored.
func NewCore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("database connection established")

	c := &Core{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Articles:   repository.NewPgArticleRepository(db),
		Keywords:   repository.NewPgKeywordRepository(db),
		Sources:    repository.NewPgSourceConfigRepository(db),
		Scraped:    repository.NewPgScrapedArticleRepository(db),
		Configs:    repository.NewPgGenerationConfigRepository(db),
		UnitOfWork: repository.NewPgUnitOfWork(db),
		OutboxRepo: outbox.NewPgRepository(db),
	}
	if cfg.Metrics.Enabled {
		c.Metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	if cfg.Database.MigrationAutoRun {
		if err := c.migrate(); err != nil {
			c.Close()
			return nil, err
		}
	}

	emitter := outbox.NewEmitter(outbox.EmitterConfig{
		ServiceName: ServiceName,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	c.Events = outbox.NewPublisher(emitter, outbox.NewAdapter(c.OutboxRepo))

	c.Locker, c.redis = newLocker(cfg.Redis)
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis lease backend connected")
	} else {
		logger.Warn().Msg("redis disabled; using in-process leases, run a single worker only")
	}

	fallback := domain.DefaultGenerationConfig(
		cfg.Pipeline.DefaultProvider, cfg.Pipeline.DefaultModel,
		cfg.Pipeline.ImageProvider, cfg.Pipeline.ImageModel,
	)
	active, err := repository.EnsureActive(ctx, c.Configs, fallback)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("ensure generation config: %w", err)
	}
	logger.Info().Str("config_id", active.ID.String()).Str("name", active.Name).Msg("generation config active")

	c.Invokers = pipeline.NewInvokerRegistry()
	if err := provider.RegisterAll(c.Invokers, ProviderEndpoints(cfg.Pipeline), c.Metrics); err != nil {
		c.Close()
		return nil, fmt.Errorf("register providers: %w", err)
	}
	bp := pipeline.NewBackpressure(cfg.Pipeline.MaxConcurrentStages, cfg.Pipeline.ProviderRPS, cfg.Pipeline.ProviderBurst)
	c.Invokers.Wrap(bp.Wrap)
	logger.Info().Strs("providers", c.Invokers.Providers()).Msg("provider gateways registered")

	c.Pipeline = pipeline.New(pipeline.Dependencies{
		Articles: c.Articles,
		Configs:  c.Configs,
		Invokers: c.Invokers,
		Locker:   c.Locker,
		Events:   c.Events,
		Metrics:  c.Metrics,
		Logger:   logger,
	}, pipeline.Config{
		StageTimeout: cfg.Pipeline.StageTimeout,
		LeaseTTL:     cfg.Pipeline.LeaseTTL,
	})

	c.Ingestion = ingestion.NewService(ingestion.Dependencies{
		Sources:    c.Sources,
		Scraped:    c.Scraped,
		UnitOfWork: c.UnitOfWork,
		Fetcher:    NewScraperRegistry(cfg.Ingestion, c.Metrics),
		Locker:     c.Locker,
		Events:     c.Events,
		Metrics:    c.Metrics,
		Logger:     logger,
	}, ingestion.Config{
		InterConfigDelay: cfg.Ingestion.InterConfigDelay,
		LeaseTTL:         cfg.Pipeline.LeaseTTL,
	})

	return c, nil
}

func (c *Core) migrate() error {
	migrator, err := database.NewMigrator(c.DB, c.Config.Database.MigrationPath, c.Logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			c.Logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// RedisHealth pings Redis; it is nil when Redis is disabled.
func (c *Core) RedisHealth() func(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return c.redis.Ping(ctx).Err()
	}
}

// DBHealth reports database health as an error.
func (c *Core) DBHealth(ctx context.Context) error {
	h := c.DB.Health(ctx)
	if !h.Healthy() {
		return fmt.Errorf("database %s: %s", h.Status, h.Error)
	}
	return nil
}

// Close releases connections.
func (c *Core) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	c.DB.Close()
}

func newLocker(cfg config.RedisConfig) (lease.Locker, redis.UniversalClient) {
	if !cfg.Enabled {
		return lease.NewMemoryLocker(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return lease.NewRedisLocker(rdb, cfg.KeyPrefix), rdb
}

// ProviderEndpoints converts the configured gateways to provider endpoints,
// sorted by name.
func ProviderEndpoints(cfg config.PipelineConfig) []provider.Endpoint {
	endpoints := make([]provider.Endpoint, 0, len(cfg.Providers))
	for name, p := range cfg.Providers {
		endpoints = append(endpoints, provider.Endpoint{
			Name:       name,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			Timeout:    p.Timeout,
			RateLimit:  p.RateLimit,
			MaxRetries: providerMaxRetries,
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints
}

// NewScraperRegistry builds the feed and HTML scrapers over one rate-limited
// client, with readability extraction when enabled.
func NewScraperRegistry(cfg config.IngestionConfig, metrics *observability.Metrics) *scraper.Registry {
	client := httpclient.New(httpclient.Config{
		Timeout:    cfg.HTTPTimeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  1,
		PerHost:    true,
		MaxRetries: 2,
		RetryDelay: time.Second,
		UserAgent:  cfg.UserAgent,
		Metrics:    metrics,
	})

	var extractor *scraper.Extractor
	if cfg.ExtractContent {
		extractor = scraper.NewExtractor(client, cfg.MaxBodyBytes)
	}
	reg := scraper.NewRegistry(extractor)
	reg.Register(scraper.NewFeedScraper(client, cfg.MaxBodyBytes))
	reg.Register(scraper.NewHTMLScraper(client, cfg.MaxBodyBytes))
	return reg
}
