package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/ingestion/scraper"
	"github.com/helixir/article-pipeline-service/internal/lease"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

// memStore backs every repository the service touches with maps guarded by one mutex.
type memStore struct {
	mu       sync.Mutex
	configs  map[uuid.UUID]*domain.NewsSourceConfig
	scraped  map[uuid.UUID]*domain.ScrapedArticle
	articles map[uuid.UUID]*domain.GenerationArticle
	keywords map[uuid.UUID]*domain.Keyword
	failGet  map[uuid.UUID]error
	marked   map[uuid.UUID]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		configs:  make(map[uuid.UUID]*domain.NewsSourceConfig),
		scraped:  make(map[uuid.UUID]*domain.ScrapedArticle),
		articles: make(map[uuid.UUID]*domain.GenerationArticle),
		keywords: make(map[uuid.UUID]*domain.Keyword),
		failGet:  make(map[uuid.UUID]error),
		marked:   make(map[uuid.UUID]time.Time),
	}
}

func (m *memStore) addConfig(name string, sites []string, keywords []string, limit int) *domain.NewsSourceConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := &domain.NewsSourceConfig{
		ID:                   uuid.New(),
		Name:                 name,
		Keywords:             keywords,
		SourceWebsites:       sites,
		Category:             "energy",
		MaxArticlesPerScrape: limit,
		ScrapeFrequency:      domain.FrequencyDaily,
		Status:               domain.SourceStatusActive,
	}
	m.configs[cfg.ID] = cfg
	return cfg
}

func (m *memStore) addScraped(a *domain.ScrapedArticle) *domain.ScrapedArticle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	c := *a
	m.scraped[a.ID] = &c
	return a
}

func (m *memStore) scrapedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scraped)
}

func (m *memStore) stores() repository.Stores {
	return repository.Stores{
		Articles: memArticles{m},
		Keywords: memKeywords{m},
		Sources:  memSources{m},
		Scraped:  memScraped{m},
	}
}

type memSources struct{ m *memStore }

func (s memSources) Create(_ context.Context, cfg *domain.NewsSourceConfig) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	c := *cfg
	s.m.configs[cfg.ID] = &c
	return nil
}

func (s memSources) Get(_ context.Context, id uuid.UUID) (*domain.NewsSourceConfig, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.failGet[id]; err != nil {
		return nil, err
	}
	cfg, ok := s.m.configs[id]
	if !ok {
		return nil, domain.NewNotFoundError("source_config", id.String())
	}
	c := *cfg
	return &c, nil
}

func (s memSources) Update(_ context.Context, cfg *domain.NewsSourceConfig) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.configs[cfg.ID]; !ok {
		return domain.NewNotFoundError("source_config", cfg.ID.String())
	}
	c := *cfg
	s.m.configs[cfg.ID] = &c
	return nil
}

func (s memSources) Delete(_ context.Context, id uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.configs, id)
	return nil
}

func (s memSources) List(ctx context.Context, _ repository.SourceFilter) ([]*domain.NewsSourceConfig, int64, error) {
	all, err := s.ListActive(ctx)
	return all, int64(len(all)), err
}

func (s memSources) ListActive(context.Context) ([]*domain.NewsSourceConfig, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.NewsSourceConfig, 0, len(s.m.configs))
	for _, cfg := range s.m.configs {
		if cfg.IsActive() {
			c := *cfg
			out = append(out, &c)
		}
	}
	// Stable order keeps scrape-all assertions deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Name < out[j-1].Name; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s memSources) MarkScraped(_ context.Context, id uuid.UUID, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cfg, ok := s.m.configs[id]
	if !ok {
		return domain.NewNotFoundError("source_config", id.String())
	}
	cfg.LastScrapedAt = &at
	s.m.marked[id] = at
	return nil
}

type memScraped struct{ m *memStore }

func (s memScraped) Create(_ context.Context, a *domain.ScrapedArticle) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.scraped {
		if existing.URLHash == a.URLHash ||
			(existing.SourceWebsite == a.SourceWebsite && existing.TitleHash == a.TitleHash) {
			return &domain.DedupConflict{URL: a.SourceURL, Title: a.Title}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	c := *a
	s.m.scraped[a.ID] = &c
	return nil
}

func (s memScraped) Get(_ context.Context, id uuid.UUID) (*domain.ScrapedArticle, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.scraped[id]
	if !ok {
		return nil, domain.NewNotFoundError("scraped_article", id.String())
	}
	c := *a
	return &c, nil
}

func (s memScraped) Update(_ context.Context, id uuid.UUID, fn func(*domain.ScrapedArticle) error) error {
	s.m.mu.Lock()
	a, ok := s.m.scraped[id]
	if !ok {
		s.m.mu.Unlock()
		return domain.NewNotFoundError("scraped_article", id.String())
	}
	working := *a
	s.m.mu.Unlock()

	// fn may call other stores of the same memStore, so it runs unlocked.
	if err := fn(&working); err != nil {
		return err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.scraped[id] = &working
	return nil
}

func (s memScraped) ExistsByHashes(_ context.Context, urlHash, sourceWebsite, titleHash string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.scraped {
		if a.URLHash == urlHash || (a.SourceWebsite == sourceWebsite && a.TitleHash == titleHash) {
			return true, nil
		}
	}
	return false, nil
}

func (s memScraped) List(context.Context, repository.ScrapedFilter) ([]*domain.ScrapedArticle, int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.ScrapedArticle, 0, len(s.m.scraped))
	for _, a := range s.m.scraped {
		c := *a
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

type memArticles struct{ m *memStore }

func (s memArticles) Create(_ context.Context, a *domain.GenerationArticle) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.keywords[a.KeywordID]; !ok {
		return domain.NewNotFoundError("keyword", a.KeywordID.String())
	}
	c := *a
	s.m.articles[a.ID] = &c
	return nil
}

func (s memArticles) Get(_ context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.articles[id]
	if !ok {
		return nil, domain.NewNotFoundError("article", id.String())
	}
	c := *a
	c.Keyword = s.m.keywords[a.KeywordID]
	return &c, nil
}

func (s memArticles) Update(_ context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.articles[id]
	if !ok {
		return domain.NewNotFoundError("article", id.String())
	}
	working := *a
	if err := fn(&working); err != nil {
		return err
	}
	s.m.articles[id] = &working
	return nil
}

func (s memArticles) Delete(_ context.Context, id uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.articles, id)
	return nil
}

func (s memArticles) List(context.Context, repository.ArticleFilter) ([]*domain.GenerationArticle, int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*domain.GenerationArticle, 0, len(s.m.articles))
	for _, a := range s.m.articles {
		c := *a
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

type memKeywords struct{ m *memStore }

func (s memKeywords) GetOrCreate(_ context.Context, keyword, category string, priority domain.Priority) (*domain.Keyword, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	normalized := domain.NormalizeKeyword(keyword)
	if normalized == "" {
		return nil, domain.NewValidationError("keyword", "keyword cannot be empty")
	}
	for _, kw := range s.m.keywords {
		if kw.NormalizedKeyword == normalized && kw.Category == category {
			return kw, nil
		}
	}
	kw := domain.NewKeyword(keyword, category, priority)
	s.m.keywords[kw.ID] = kw
	return kw, nil
}

func (s memKeywords) GetByID(_ context.Context, id uuid.UUID) (*domain.Keyword, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	kw, ok := s.m.keywords[id]
	if !ok {
		return nil, domain.NewNotFoundError("keyword", id.String())
	}
	return kw, nil
}

// memUnitOfWork runs fn against the shared in-memory stores without rollback.
type memUnitOfWork struct {
	m     *memStore
	calls int
}

func (u *memUnitOfWork) WithinTx(_ context.Context, fn func(repository.Stores) error) error {
	u.calls++
	return fn(u.m.stores())
}

// staticFetcher serves canned site results keyed by site URL.
type staticFetcher struct {
	mu    sync.Mutex
	sites map[string]scraper.SiteResult
	calls int
}

func (f *staticFetcher) FetchSites(_ context.Context, sites []string, _ int) []scraper.SiteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]scraper.SiteResult, len(sites))
	for i, site := range sites {
		res, ok := f.sites[site]
		if !ok {
			res = scraper.SiteResult{Site: site, Error: errors.New("unreachable")}
		}
		res.Site = site
		out[i] = res
	}
	return out
}

type recordedEvents struct {
	mu     sync.Mutex
	events []outbox.EmitParams
	inTx   int
}

func (r *recordedEvents) Publish(_ context.Context, q outbox.Querier, params outbox.EmitParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, params)
	r.inTx++
	return nil
}

func (r *recordedEvents) PublishNonTx(_ context.Context, params outbox.EmitParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, params)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type harness struct {
	service *Service
	store   *memStore
	fetcher *staticFetcher
	locker  *lease.MemoryLocker
	events  *recordedEvents
	uow     *memUnitOfWork
	metrics *observability.Metrics
	delays  []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		fetcher: &staticFetcher{sites: make(map[string]scraper.SiteResult)},
		locker:  lease.NewMemoryLocker(),
		events:  &recordedEvents{},
		metrics: observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	}
	h.uow = &memUnitOfWork{m: h.store}
	stores := h.store.stores()
	h.service = NewService(Dependencies{
		Sources:    stores.Sources,
		Scraped:    stores.Scraped,
		UnitOfWork: h.uow,
		Fetcher:    h.fetcher,
		Locker:     h.locker,
		Events:     h.events,
		Metrics:    h.metrics,
		Logger:     zerolog.Nop(),
	}, Config{InterConfigDelay: 2 * time.Second, LeaseTTL: time.Minute})
	h.service.sleepFor = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	return h
}

func candidate(url, title, summary string) scraper.Candidate {
	return scraper.Candidate{URL: url, Title: title, Summary: summary}
}
