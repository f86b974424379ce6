package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// ArticleRepository handles generation article persistence.
type ArticleRepository interface {
	// Create inserts a new article. The keyword must exist.
	Create(ctx context.Context, article *domain.GenerationArticle) error

	// Get retrieves an article with its keyword.
	// Returns domain.ErrNotFound if the article does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)

	// Update locks the article row, applies fn and persists the result.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error

	// Delete removes an article.
	// Returns domain.ErrNotFound if the article does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// List retrieves articles matching the filter, newest first, and the
	// total count for pagination.
	List(ctx context.Context, filter ArticleFilter) ([]*domain.GenerationArticle, int64, error)
}

// ArticleFilter narrows List results. Zero values do not filter.
type ArticleFilter struct {
	Statuses  []domain.ArticleStatus
	Stage     domain.Stage
	KeywordID *uuid.UUID
	// Search matches the keyword text or the article title, case-insensitively.
	Search string
	Limit  int
	Offset int
}
