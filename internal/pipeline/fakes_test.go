package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/lease"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
)

// memArticles is an in-memory ArticleStore. Update is serialized like a row lock.
type memArticles struct {
	mu       sync.Mutex
	articles map[uuid.UUID]*domain.GenerationArticle
}

func newMemArticles() *memArticles {
	return &memArticles{articles: make(map[uuid.UUID]*domain.GenerationArticle)}
}

func (s *memArticles) put(a *domain.GenerationArticle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = cloneArticle(a)
}

func (s *memArticles) Get(_ context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return nil, domain.NewNotFoundError("article", id.String())
	}
	return cloneArticle(a), nil
}

func (s *memArticles) Update(_ context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return domain.NewNotFoundError("article", id.String())
	}
	working := cloneArticle(a)
	if err := fn(working); err != nil {
		return err
	}
	s.articles[id] = cloneArticle(working)
	return nil
}

func (s *memArticles) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[id]; !ok {
		return domain.NewNotFoundError("article", id.String())
	}
	delete(s.articles, id)
	return nil
}

func cloneArticle(a *domain.GenerationArticle) *domain.GenerationArticle {
	c := *a
	c.ErrorLog = append([]domain.ErrorLogEntry(nil), a.ErrorLog...)
	c.ReviewLog = append([]domain.ReviewEntry(nil), a.ReviewLog...)
	c.History = append([]domain.GenerationSnapshot(nil), a.History...)
	c.Artifacts.FocusKeywords = append([]string(nil), a.Artifacts.FocusKeywords...)
	c.Artifacts.PlagiarismMatches = append([]string(nil), a.Artifacts.PlagiarismMatches...)
	return &c
}

type staticConfig struct {
	cfg *domain.GenerationConfig
}

func (s staticConfig) GetActive(context.Context) (*domain.GenerationConfig, error) {
	return s.cfg, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []outbox.EmitParams
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

// scriptedInvoker returns valid output for every stage. Hooks override a
// stage; seoScores and plagiarismScores are consumed one per call, the last
// value repeating.
type scriptedInvoker struct {
	mu               sync.Mutex
	calls            map[domain.Stage]int
	feedback         []Feedback
	hooks            map[domain.Stage]InvokerFunc
	seoScores        []float64
	plagiarismScores []float64
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		calls:            make(map[domain.Stage]int),
		hooks:            make(map[domain.Stage]InvokerFunc),
		seoScores:        []float64{90},
		plagiarismScores: []float64{5},
	}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req StageRequest) (*StageResult, error) {
	s.mu.Lock()
	n := s.calls[req.Stage]
	s.calls[req.Stage] = n + 1
	if req.Feedback != nil {
		s.feedback = append(s.feedback, *req.Feedback)
	}
	hook := s.hooks[req.Stage]
	seo := pick(s.seoScores, n)
	plag := pick(s.plagiarismScores, n)
	s.mu.Unlock()

	if hook != nil {
		return hook(ctx, req)
	}
	return validResult(req.Stage, seo, plag), nil
}

func (s *scriptedInvoker) setHook(stage domain.Stage, fn InvokerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.hooks, stage)
		return
	}
	s.hooks[stage] = fn
}

func (s *scriptedInvoker) count(stage domain.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func pick(values []float64, i int) float64 {
	if i >= len(values) {
		return values[len(values)-1]
	}
	return values[i]
}

func score(v float64) *float64 { return &v }

func validResult(stage domain.Stage, seo, plagiarism float64) *StageResult {
	switch stage {
	case domain.StageKeywordAnalysis:
		return &StageResult{Artifact: "intent: informational", FocusKeywords: []string{"solar", "panels"}}
	case domain.StageResearch:
		return &StageResult{Artifact: "research notes"}
	case domain.StageOutline:
		return &StageResult{Artifact: "1. intro\n2. body\n3. conclusion"}
	case domain.StageContentGeneration:
		return &StageResult{Artifact: "draft body", Title: "Solar Panels Explained"}
	case domain.StageHumanization:
		return &StageResult{Artifact: "humanized body"}
	case domain.StageAIDetection:
		return &StageResult{Score: score(12)}
	case domain.StagePlagiarismCheck:
		return &StageResult{Score: score(plagiarism)}
	case domain.StageBiasDetection:
		return &StageResult{Score: score(8)}
	case domain.StageFactVerification:
		return &StageResult{Score: score(93)}
	case domain.StagePerspectiveAnalysis:
		return &StageResult{Artifact: "balanced"}
	case domain.StageSEOOptimization:
		return &StageResult{Score: score(seo), Suggestions: []string{"add keyword to h2"}}
	case domain.StageMetaGeneration:
		return &StageResult{MetaTitle: "Solar Panels", MetaDescription: "How solar panels work."}
	case domain.StageImageGeneration:
		return &StageResult{ImageURL: "https://cdn.example.com/solar.png"}
	case domain.StageQualityCheck:
		return &StageResult{Score: score(88), Scores: map[domain.ScoreKind]float64{domain.ScoreReadability: 71}}
	}
	return nil
}

type harness struct {
	pipeline *Pipeline
	articles *memArticles
	invoker  *scriptedInvoker
	locker   *lease.MemoryLocker
	events   *recordedEvents
	config   *domain.GenerationConfig
	metrics  *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		articles: newMemArticles(),
		invoker:  newScriptedInvoker(),
		locker:   lease.NewMemoryLocker(),
		events:   &recordedEvents{},
		config:   domain.DefaultGenerationConfig("acme", "acme-large", "pixels", "pixels-v2"),
		metrics:  observability.NewMetricsWithRegistry("test", prometheus.NewRegistry()),
	}
	registry := NewInvokerRegistry()
	registry.Register("acme", h.invoker)
	registry.Register("pixels", h.invoker)

	h.pipeline = New(Dependencies{
		Articles: h.articles,
		Configs:  staticConfig{cfg: h.config},
		Invokers: registry,
		Locker:   h.locker,
		Events:   h.events,
		Metrics:  h.metrics,
		Logger:   zerolog.Nop(),
	}, Config{StageTimeout: 2 * time.Second, LeaseTTL: time.Minute})
	return h
}

// queued stores a new queued article with a keyword.
func (h *harness) queued(t *testing.T) *domain.GenerationArticle {
	t.Helper()
	kw := domain.NewKeyword("Solar Panels", "energy", domain.PriorityNormal)
	a := domain.NewGenerationArticle(kw.ID)
	a.Keyword = kw
	h.articles.put(a)
	return a
}

// generating stores an article and starts it.
func (h *harness) generating(t *testing.T) *domain.GenerationArticle {
	t.Helper()
	a := h.queued(t)
	started, err := h.pipeline.Start(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started
}

// revokingLocker hands out leases whose extension always fails, as when a
// lease expired and was taken over by another worker.
type revokingLocker struct {
	inner *lease.MemoryLocker
}

func (r revokingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lease.Lease, error) {
	l, err := r.inner.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return revokedLease{Lease: l}, nil
}

type revokedLease struct {
	lease.Lease
}

func (r revokedLease) Extend(context.Context, time.Duration) error {
	return &domain.LeaseConflictError{Key: r.Key()}
}

// slowResult returns the stage's valid output after d, or the context error.
func slowResult(d time.Duration, seo float64) InvokerFunc {
	return func(ctx context.Context, req StageRequest) (*StageResult, error) {
		select {
		case <-time.After(d):
			return validResult(req.Stage, seo, 5), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// advanceTo advances a until stage is the next stage to execute.
func (h *harness) advanceTo(t *testing.T, a *domain.GenerationArticle, stage domain.Stage) {
	t.Helper()
	for a.WorkflowStage != stage {
		res, err := h.pipeline.Advance(context.Background(), a.ID)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		a = res.Article
	}
}

// withPipelineConfig rebuilds the harness pipeline with cfg and locker.
func (h *harness) withPipelineConfig(cfg Config, locker lease.Locker) {
	registry := NewInvokerRegistry()
	registry.Register("acme", h.invoker)
	registry.Register("pixels", h.invoker)
	h.pipeline = New(Dependencies{
		Articles: h.articles,
		Configs:  staticConfig{cfg: h.config},
		Invokers: registry,
		Locker:   locker,
		Events:   h.events,
		Metrics:  h.metrics,
		Logger:   zerolog.Nop(),
	}, cfg)
}
