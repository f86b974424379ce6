package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// SourceConfigRepository handles news source configuration persistence.
type SourceConfigRepository interface {
	// Create validates and inserts a configuration. Empty status defaults to active.
	Create(ctx context.Context, cfg *domain.NewsSourceConfig) error

	// Get retrieves a configuration.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.NewsSourceConfig, error)

	// Update validates cfg and replaces the stored configuration's mutable fields.
	Update(ctx context.Context, cfg *domain.NewsSourceConfig) error

	// Delete removes a configuration and its scraped candidates.
	Delete(ctx context.Context, id uuid.UUID) error

	// List retrieves configurations ordered by name with a total count.
	List(ctx context.Context, filter SourceFilter) ([]*domain.NewsSourceConfig, int64, error)

	// ListActive retrieves every active configuration ordered by name.
	ListActive(ctx context.Context) ([]*domain.NewsSourceConfig, error)

	// MarkScraped stamps the configuration's last scrape time.
	MarkScraped(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SourceFilter narrows SourceConfigRepository.List results.
type SourceFilter struct {
	Status domain.SourceStatus
	Limit  int
	Offset int
}

// ScrapedArticleRepository handles scraped candidate persistence.
type ScrapedArticleRepository interface {
	// Create inserts a candidate. A candidate whose URL hash or
	// (source website, title hash) is already stored returns *domain.DedupConflict.
	Create(ctx context.Context, article *domain.ScrapedArticle) error

	// Get retrieves a candidate.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.ScrapedArticle, error)

	// Update locks the candidate row, applies fn and persists the result.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.ScrapedArticle) error) error

	// ExistsByHashes reports whether a candidate with urlHash, or with
	// titleHash on the same source website, is stored.
	ExistsByHashes(ctx context.Context, urlHash, sourceWebsite, titleHash string) (bool, error)

	// List retrieves candidates, newest first, with a total count.
	List(ctx context.Context, filter ScrapedFilter) ([]*domain.ScrapedArticle, int64, error)
}

// ScrapedFilter narrows ScrapedArticleRepository.List results.
type ScrapedFilter struct {
	SourceConfigID *uuid.UUID
	Statuses       []domain.ScrapedStatus
	Limit          int
	Offset         int
}
