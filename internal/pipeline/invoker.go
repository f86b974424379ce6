package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Feedback carries a quality gate's prior result into a rewriting stage.
type Feedback struct {
	Dimension       domain.GateDimension   `json:"dimension"`
	Attempt         int                    `json:"attempt"`
	PriorScore      float64                `json:"prior_score"`
	Target          float64                `json:"target"`
	Suggestions     []string               `json:"suggestions,omitempty"`
	MatchedSections []string               `json:"matched_sections,omitempty"`
	Strategy        domain.RewriteStrategy `json:"strategy"`
}

// StageRequest is the input to one stage call.
type StageRequest struct {
	ArticleID uuid.UUID        `json:"article_id"`
	Stage     domain.Stage     `json:"stage"`
	Provider  string           `json:"provider"`
	Model     string           `json:"model,omitempty"`
	Keyword   string           `json:"keyword"`
	Category  string           `json:"category,omitempty"`
	Artifacts domain.Artifacts `json:"artifacts"`
	Scores    domain.Scores    `json:"scores"`
	Feedback  *Feedback        `json:"feedback,omitempty"`
}

// StageResult is what a stage call returns. Which fields are required
// depends on the stage.
type StageResult struct {
	Artifact        string                       `json:"artifact,omitempty"`
	Title           string                       `json:"title,omitempty" validate:"max=300"`
	MetaTitle       string                       `json:"meta_title,omitempty" validate:"max=120"`
	MetaDescription string                       `json:"meta_description,omitempty" validate:"max=400"`
	FocusKeywords   []string                     `json:"focus_keywords,omitempty" validate:"max=20,dive,required"`
	ImageURL        string                       `json:"image_url,omitempty" validate:"omitempty,url"`
	Score           *float64                     `json:"score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Scores          map[domain.ScoreKind]float64 `json:"scores,omitempty" validate:"dive,gte=0,lte=100"`
	Suggestions     []string                     `json:"suggestions,omitempty"`
	MatchedSections []string                     `json:"matched_sections,omitempty"`
}

// Invoker executes a stage against one provider.
type Invoker interface {
	Invoke(ctx context.Context, req StageRequest) (*StageResult, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req StageRequest) (*StageResult, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req StageRequest) (*StageResult, error) {
	return f(ctx, req)
}

// InvokerRegistry maps provider names to invokers. It is safe for concurrent use.
type InvokerRegistry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewInvokerRegistry creates an empty registry.
func NewInvokerRegistry() *InvokerRegistry {
	return &InvokerRegistry{invokers: make(map[string]Invoker)}
}

// Register adds or replaces the invoker for provider.
func (r *InvokerRegistry) Register(provider string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[provider] = inv
}

// Get returns the invoker for provider.
func (r *InvokerRegistry) Get(provider string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[provider]
	return inv, ok
}

// Providers returns the registered provider names, sorted.
func (r *InvokerRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wrap replaces every registered invoker with wrap(invoker).
func (r *InvokerRegistry) Wrap(wrap func(Invoker) Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, inv := range r.invokers {
		r.invokers[name] = wrap(inv)
	}
}
