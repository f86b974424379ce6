package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// KeywordRepository handles keyword persistence.
// Keywords are unique per normalized form and category.
type KeywordRepository interface {
	// GetOrCreate retrieves an existing keyword by its normalized form and
	// category or creates a new one with the given priority.
	// Returns domain.ErrInvalidInput for empty keywords.
	GetOrCreate(ctx context.Context, keyword, category string, priority domain.Priority) (*domain.Keyword, error)

	// GetByID retrieves a keyword by its internal UUID.
	// Returns domain.ErrNotFound if no matching keyword exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Keyword, error)
}
