// Package ingestion turns scraped web content into generation work.
//
// A Service runs the scrape of a news source configuration, filters the
// discovered candidates by the configuration's keywords, deduplicates them
// by normalized URL and by (source website, normalized title) and stores
// the survivors as pending ScrapedArticles. Operators then approve or reject
// candidates; approving with auto-generate derives a Keyword from the
// candidate and queues a GenerationArticle for it in one transaction.
//
// A source configuration is never scraped concurrently with itself: every
// scrape holds the configuration's lease.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/ingestion/scraper"
	"github.com/helixir/article-pipeline-service/internal/lease"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

// SiteFetcher discovers candidates on source websites. *scraper.Registry implements it.
type SiteFetcher interface {
	FetchSites(ctx context.Context, sites []string, limit int) []scraper.SiteResult
}

// EventPublisher records domain events, inside a transaction when q is set.
type EventPublisher interface {
	Publish(ctx context.Context, q outbox.Querier, params outbox.EmitParams) error
	PublishNonTx(ctx context.Context, params outbox.EmitParams) error
}

// Config holds ingestion settings.
type Config struct {
	// InterConfigDelay is the pause between configurations in TriggerScrapeAll.
	InterConfigDelay time.Duration
	// LeaseTTL bounds how long a crashed scrape can block its configuration.
	LeaseTTL time.Duration
	// KeywordPriority is given to keywords derived from approved candidates.
	KeywordPriority domain.Priority
}

// Dependencies are the collaborators of a Service. Events and Metrics are optional.
type Dependencies struct {
	Sources    repository.SourceConfigRepository
	Scraped    repository.ScrapedArticleRepository
	UnitOfWork repository.UnitOfWork
	Fetcher    SiteFetcher
	Locker     lease.Locker
	Events     EventPublisher
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// ScrapeResult summarizes one configuration's scrape.
type ScrapeResult struct {
	ConfigID uuid.UUID `json:"config_id"`
	// TotalFound counts keyword-matching candidates within the cap, duplicates included.
	TotalFound      int      `json:"total_found"`
	ArticlesCreated int      `json:"articles_created"`
	Duplicates      int      `json:"duplicates"`
	Errors          []string `json:"errors,omitempty"`
}

// ScrapeAllResult aggregates a TriggerScrapeAll run.
type ScrapeAllResult struct {
	Results         []*ScrapeResult `json:"results"`
	TotalFound      int             `json:"total_found"`
	ArticlesCreated int             `json:"articles_created"`
	// Failed counts configurations whose scrape returned an error.
	Failed int `json:"failed"`
}

// ApproveResult reports the outcome of approving one candidate.
type ApproveResult struct {
	Scraped *domain.ScrapedArticle `json:"scraped_article"`
	// Article is the queued generation article, when one exists.
	Article *domain.GenerationArticle `json:"-"`
}

// BulkApproveItem is the per-id outcome of BulkApprove.
type BulkApproveItem struct {
	ID     uuid.UUID
	Result *ApproveResult
	Err    error
}

// Service runs scrapes and candidate review.
type Service struct {
	sources  repository.SourceConfigRepository
	scraped  repository.ScrapedArticleRepository
	uow      repository.UnitOfWork
	fetcher  SiteFetcher
	locker   lease.Locker
	events   EventPublisher
	metrics  *observability.Metrics
	logger   zerolog.Logger
	config   Config
	now      func() time.Time
	sleepFor func(ctx context.Context, d time.Duration) error
}

// NewService creates a Service.
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.KeywordPriority == "" {
		cfg.KeywordPriority = domain.PriorityNormal
	}
	return &Service{
		sources:  deps.Sources,
		scraped:  deps.Scraped,
		uow:      deps.UnitOfWork,
		fetcher:  deps.Fetcher,
		locker:   deps.Locker,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "ingestion").Logger(),
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sleepFor: sleepContext,
	}
}

// TriggerScrape scrapes one configuration. Per-site fetch failures are
// collected in the result; only lease, lookup and bookkeeping failures are
// returned as errors.
func (s *Service) TriggerScrape(ctx context.Context, configID uuid.UUID) (*ScrapeResult, error) {
	key := lease.SourceConfigKey(configID.String())
	l, err := s.locker.Acquire(ctx, key, s.config.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseConflict) && s.metrics != nil {
			s.metrics.RecordLeaseConflict(lease.Scope(key))
		}
		return nil, err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("lease", key).Msg("failed to release lease")
		}
	}()

	cfg, err := s.sources.Get(ctx, configID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	logger := observability.FromContext(ctx, s.logger).With().Str("source_config_id", configID.String()).Logger()
	result := &ScrapeResult{ConfigID: configID}

	sites := s.fetcher.FetchSites(ctx, cfg.SourceWebsites, cfg.MaxArticlesPerScrape)
	failedSites := 0
	seenURLs := make(map[string]struct{})
	seenTitles := make(map[string]struct{})

collect:
	for _, site := range sites {
		if site.Error != nil {
			failedSites++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", site.Site, site.Error))
			siteLogger := observability.WithSourceContext(logger, configID.String(), site.Site)
			siteLogger.Warn().Err(site.Error).Msg("source website fetch failed")
			continue
		}
		for _, c := range site.Candidates {
			if ctx.Err() != nil {
				break collect
			}
			matched, ok := cfg.MatchKeywords(c.Text())
			if !ok {
				continue
			}
			if result.TotalFound >= cfg.MaxArticlesPerScrape {
				break collect
			}
			result.TotalFound++

			created, err := s.storeCandidate(ctx, cfg, site.Site, c, matched, seenURLs, seenTitles)
			switch {
			case errors.Is(err, domain.ErrDedupConflict):
				result.Duplicates++
			case err != nil:
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.URL, err))
				logger.Warn().Err(err).Str("url", c.URL).Msg("failed to store candidate")
			case created:
				result.ArticlesCreated++
			}
		}
	}

	if err := s.sources.MarkScraped(ctx, configID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to stamp scrape time: %w", err)
	}

	elapsed := time.Since(started)
	outcome := "success"
	switch {
	case len(sites) > 0 && failedSites == len(sites):
		outcome = "failed"
	case len(result.Errors) > 0:
		outcome = "partial"
	}
	if s.metrics != nil {
		s.metrics.RecordScrape(outcome, result.TotalFound, result.ArticlesCreated, result.Duplicates, elapsed.Seconds())
	}
	s.publishNonTx(ctx, outbox.EmitParams{
		AggregateID:   configID.String(),
		AggregateType: domain.AggregateSourceConfig,
		EventType:     domain.EventTypeScrapeCompleted,
		Payload: domain.ScrapeCompletedPayload{
			ConfigID:        configID,
			TotalFound:      result.TotalFound,
			ArticlesCreated: result.ArticlesCreated,
			Duplicates:      result.Duplicates,
			Errors:          result.Errors,
			Duration:        elapsed,
		},
		RequestID: observability.RequestIDFromContext(ctx),
	})

	logger.Info().
		Str("outcome", outcome).
		Int("total_found", result.TotalFound).
		Int("articles_created", result.ArticlesCreated).
		Int("duplicates", result.Duplicates).
		Dur("duration", elapsed).
		Msg("scrape completed")

	return result, nil
}

// storeCandidate persists one candidate unless it duplicates one seen in
// this run or already stored. Duplicates return a *domain.DedupConflict.
func (s *Service) storeCandidate(ctx context.Context, cfg *domain.NewsSourceConfig, site string, c scraper.Candidate,
	matched []string, seenURLs, seenTitles map[string]struct{}) (bool, error) {
	urlHash, err := scraper.HashURL(c.URL)
	if err != nil {
		return false, err
	}
	titleHash := domain.HashText(c.Title)
	titleKey := site + "\x00" + titleHash
	conflict := &domain.DedupConflict{URL: c.URL, Title: c.Title}

	if _, ok := seenURLs[urlHash]; ok {
		return false, conflict
	}
	if _, ok := seenTitles[titleKey]; ok {
		return false, conflict
	}
	seenURLs[urlHash] = struct{}{}
	seenTitles[titleKey] = struct{}{}

	exists, err := s.scraped.ExistsByHashes(ctx, urlHash, site, titleHash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, conflict
	}

	article := &domain.ScrapedArticle{
		SourceConfigID:  cfg.ID,
		SourceWebsite:   site,
		SourceURL:       c.URL,
		URLHash:         urlHash,
		TitleHash:       titleHash,
		Title:           c.Title,
		Content:         c.Content,
		Summary:         c.Summary,
		MatchedKeywords: matched,
		PublishedDate:   c.PublishedAt,
		Status:          domain.ScrapedStatusPending,
	}
	// A concurrent scrape of another config can still win the unique
	// constraint; Create reports that as a DedupConflict.
	if err := s.scraped.Create(ctx, article); err != nil {
		return false, err
	}
	return true, nil
}

// TriggerScrapeAll scrapes every active configuration one after another,
// pausing InterConfigDelay between them. A failing configuration is
// recorded and the run continues. Cancelling ctx stops the run and returns
// the partial result with the context error.
func (s *Service) TriggerScrapeAll(ctx context.Context) (*ScrapeAllResult, error) {
	configs, err := s.sources.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	all := &ScrapeAllResult{Results: make([]*ScrapeResult, 0, len(configs))}
	for i, cfg := range configs {
		if i > 0 && s.config.InterConfigDelay > 0 {
			if err := s.sleepFor(ctx, s.config.InterConfigDelay); err != nil {
				return all, err
			}
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}

		res, err := s.TriggerScrape(ctx, cfg.ID)
		if err != nil {
			all.Failed++
			all.Results = append(all.Results, &ScrapeResult{ConfigID: cfg.ID, Errors: []string{err.Error()}})
			s.logger.Error().Err(err).Str("source_config_id", cfg.ID.String()).Str("name", cfg.Name).Msg("scrape failed")
			continue
		}
		all.Results = append(all.Results, res)
		all.TotalFound += res.TotalFound
		all.ArticlesCreated += res.ArticlesCreated
	}

	s.logger.Info().
		Int("configs", len(configs)).
		Int("failed", all.Failed).
		Int("total_found", all.TotalFound).
		Int("articles_created", all.ArticlesCreated).
		Msg("scrape-all completed")
	return all, nil
}

// Approve approves a candidate. With autoGenerate the candidate also gets a
// Keyword derived from its title and the configuration's category and a
// queued GenerationArticle, and becomes generated, all in one transaction.
// Approving a generated candidate returns its existing article; approving a
// rejected one is an InvalidStateError.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, autoGenerate bool) (*ApproveResult, error) {
	result := &ApproveResult{}
	var changed bool

	err := s.uow.WithinTx(ctx, func(st repository.Stores) error {
		return st.Scraped.Update(ctx, id, func(a *domain.ScrapedArticle) error {
			switch a.Status {
			case domain.ScrapedStatusRejected:
				return domain.NewInvalidStateError("scraped_article", id.String(), "approve", string(a.Status))
			case domain.ScrapedStatusGenerated:
				if a.GeneratedArticleID != nil {
					existing, err := st.Articles.Get(ctx, *a.GeneratedArticleID)
					if err != nil && !errors.Is(err, domain.ErrNotFound) {
						return err
					}
					result.Article = existing
				}
				result.Scraped = a
				return nil
			case domain.ScrapedStatusApproved:
				if !autoGenerate {
					result.Scraped = a
					return nil
				}
			}

			changed = true
			a.Status = domain.ScrapedStatusApproved
			if autoGenerate {
				article, err := s.spawnArticle(ctx, st, a)
				if err != nil {
					return err
				}
				a.Status = domain.ScrapedStatusGenerated
				a.GeneratedArticleID = &article.ID
				result.Article = article
			}
			result.Scraped = a

			return s.publishTx(ctx, st.Querier, outbox.EmitParams{
				AggregateID:   id.String(),
				AggregateType: domain.AggregateScrapedArticle,
				EventType:     domain.EventTypeScrapedArticleApproved,
				Payload: domain.ScrapedArticleApprovedPayload{
					ScrapedArticleID:   id,
					GeneratedArticleID: a.GeneratedArticleID,
					AutoGenerate:       autoGenerate,
				},
				RequestID: observability.RequestIDFromContext(ctx),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if changed && result.Article != nil && s.metrics != nil {
		s.metrics.RecordArticleQueued()
	}
	s.logger.Info().
		Str("scraped_article_id", id.String()).
		Str("status", string(result.Scraped.Status)).
		Bool("auto_generate", autoGenerate).
		Bool("changed", changed).
		Msg("scraped article approved")
	return result, nil
}

func (s *Service) spawnArticle(ctx context.Context, st repository.Stores, a *domain.ScrapedArticle) (*domain.GenerationArticle, error) {
	cfg, err := st.Sources.Get(ctx, a.SourceConfigID)
	if err != nil {
		return nil, err
	}
	kw, err := st.Keywords.GetOrCreate(ctx, a.Title, cfg.Category, s.config.KeywordPriority)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keyword: %w", err)
	}

	article := domain.NewGenerationArticle(kw.ID)
	article.Keyword = kw
	if err := st.Articles.Create(ctx, article); err != nil {
		return nil, fmt.Errorf("failed to queue article: %w", err)
	}

	err = s.publishTx(ctx, st.Querier, outbox.EmitParams{
		AggregateID:   article.ID.String(),
		AggregateType: domain.AggregateArticle,
		EventType:     domain.EventTypeArticleQueued,
		Payload:       domain.NewArticleEventPayload(article),
		RequestID:     observability.RequestIDFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return article, nil
}

// BulkApprove approves each id independently. Failures are reported per id
// and do not affect the other ids.
func (s *Service) BulkApprove(ctx context.Context, ids []uuid.UUID, autoGenerate bool) []BulkApproveItem {
	items := make([]BulkApproveItem, 0, len(ids))
	for _, id := range ids {
		res, err := s.Approve(ctx, id, autoGenerate)
		items = append(items, BulkApproveItem{ID: id, Result: res, Err: err})
	}
	return items
}

// Reject rejects a pending or approved candidate. Rejecting a rejected
// candidate returns it unchanged; a generated one is an InvalidStateError.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.ScrapedArticle, error) {
	var rejected *domain.ScrapedArticle
	err := s.scraped.Update(ctx, id, func(a *domain.ScrapedArticle) error {
		switch a.Status {
		case domain.ScrapedStatusRejected:
			rejected = a
			return nil
		case domain.ScrapedStatusPending, domain.ScrapedStatusApproved:
			a.Status = domain.ScrapedStatusRejected
			a.RejectionReason = reason
			rejected = a
			return nil
		default:
			return domain.NewInvalidStateError("scraped_article", id.String(), "reject", string(a.Status))
		}
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *Service) publishTx(ctx context.Context, q outbox.Querier, params outbox.EmitParams) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Publish(ctx, q, params); err != nil {
		return fmt.Errorf("failed to record %s event: %w", params.EventType, err)
	}
	return nil
}

func (s *Service) publishNonTx(ctx context.Context, params outbox.EmitParams) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishNonTx(ctx, params); err != nil {
		s.logger.Warn().Err(err).Str("event_type", params.EventType).Msg("failed to publish event")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
