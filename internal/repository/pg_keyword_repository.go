package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ KeywordRepository = (*PgKeywordRepository)(nil)

// PgKeywordRepository is a PostgreSQL implementation of KeywordRepository.
type PgKeywordRepository struct {
	db DBTX
}

// NewPgKeywordRepository creates a new PostgreSQL keyword repository.
func NewPgKeywordRepository(db DBTX) *PgKeywordRepository {
	return &PgKeywordRepository{db: db}
}

// GetOrCreate retrieves an existing keyword or creates a new one.
// Uses a single INSERT...ON CONFLICT...RETURNING query to avoid two roundtrips.
// An existing keyword keeps its original text and priority.
func (r *PgKeywordRepository) GetOrCreate(ctx context.Context, keyword, category string, priority domain.Priority) (*domain.Keyword, error) {
	normalized := domain.NormalizeKeyword(keyword)
	if normalized == "" {
		return nil, domain.NewValidationError("keyword", "keyword cannot be empty or whitespace-only")
	}

	kw := domain.NewKeyword(keyword, category, priority)
	query := `
		INSERT INTO keywords (id, keyword, normalized_keyword, category, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (normalized_keyword, category) DO UPDATE SET
			normalized_keyword = keywords.normalized_keyword
		RETURNING id, keyword, normalized_keyword, category, priority, created_at`

	err := r.db.QueryRow(ctx, query, kw.ID, kw.Keyword, normalized, kw.Category, kw.Priority, kw.CreatedAt).
		Scan(&kw.ID, &kw.Keyword, &kw.NormalizedKeyword, &kw.Category, &kw.Priority, &kw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create keyword: %w", err)
	}

	return kw, nil
}

// GetByID retrieves a keyword by its internal UUID.
func (r *PgKeywordRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Keyword, error) {
	query := `
		SELECT id, keyword, normalized_keyword, category, priority, created_at
		FROM keywords
		WHERE id = $1`

	var kw domain.Keyword
	err := r.db.QueryRow(ctx, query, id).
		Scan(&kw.ID, &kw.Keyword, &kw.NormalizedKeyword, &kw.Category, &kw.Priority, &kw.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("keyword", id.String())
		}
		return nil, fmt.Errorf("failed to get keyword by ID: %w", err)
	}

	return &kw, nil
}
