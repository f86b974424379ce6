package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ ScrapedArticleRepository = (*PgScrapedArticleRepository)(nil)

var scrapedArticleColumns = []string{
	"id", "source_config_id", "source_website", "source_url", "url_hash", "title_hash",
	"title", "content", "summary", "matched_keywords", "published_date", "status",
	"rejection_reason", "generated_article_id", "created_at", "updated_at",
}

// PgScrapedArticleRepository is a PostgreSQL implementation of ScrapedArticleRepository.
type PgScrapedArticleRepository struct {
	db DBTX
}

// NewPgScrapedArticleRepository creates a new PostgreSQL scraped article repository.
func NewPgScrapedArticleRepository(db DBTX) *PgScrapedArticleRepository {
	return &PgScrapedArticleRepository{db: db}
}

// Create inserts a candidate. Unique violations on either dedup constraint
// surface as *domain.DedupConflict.
func (r *PgScrapedArticleRepository) Create(ctx context.Context, a *domain.ScrapedArticle) error {
	if a == nil {
		return domain.NewValidationError("scraped_article", "article cannot be nil")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = domain.ScrapedStatusPending
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query, args, err := psql.Insert("scraped_articles").
		Columns(scrapedArticleColumns...).
		Values(a.ID, a.SourceConfigID, a.SourceWebsite, a.SourceURL, a.URLHash, a.TitleHash,
			a.Title, a.Content, a.Summary, nonNilStrings(a.MatchedKeywords), a.PublishedDate, a.Status,
			a.RejectionReason, a.GeneratedArticleID, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isPgUniqueViolation(err) {
			return &domain.DedupConflict{URL: a.SourceURL, Title: a.Title}
		}
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("source_config", a.SourceConfigID.String())
		}
		return fmt.Errorf("failed to create scraped article: %w", err)
	}
	return nil
}

// Get retrieves a candidate.
func (r *PgScrapedArticleRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ScrapedArticle, error) {
	query, args, err := psql.Select(scrapedArticleColumns...).
		From("scraped_articles").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	a, err := scanScrapedArticle(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("scraped_article", id.String())
		}
		return nil, fmt.Errorf("failed to get scraped article: %w", err)
	}
	return a, nil
}

// Update locks the candidate row, applies fn and writes the review fields back.
func (r *PgScrapedArticleRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.ScrapedArticle) error) error {
	return withTx(ctx, r.db, func(db DBTX) error {
		query, args, err := psql.Select(scrapedArticleColumns...).
			From("scraped_articles").
			Where(squirrel.Eq{"id": id}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build select: %w", err)
		}

		a, err := scanScrapedArticle(db.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewNotFoundError("scraped_article", id.String())
			}
			return fmt.Errorf("failed to query scraped article for update: %w", err)
		}

		if err := fn(a); err != nil {
			return err
		}
		a.UpdatedAt = time.Now().UTC()

		update, updateArgs, err := psql.Update("scraped_articles").
			Set("status", a.Status).
			Set("rejection_reason", a.RejectionReason).
			Set("generated_article_id", a.GeneratedArticleID).
			Set("matched_keywords", nonNilStrings(a.MatchedKeywords)).
			Set("updated_at", a.UpdatedAt).
			Where(squirrel.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}
		if _, err := db.Exec(ctx, update, updateArgs...); err != nil {
			return fmt.Errorf("failed to update scraped article: %w", err)
		}
		return nil
	})
}

// ExistsByHashes reports whether a matching candidate is stored.
func (r *PgScrapedArticleRepository) ExistsByHashes(ctx context.Context, urlHash, sourceWebsite, titleHash string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM scraped_articles
			WHERE url_hash = $1 OR (source_website = $2 AND title_hash = $3)
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, urlHash, sourceWebsite, titleHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check scraped article hashes: %w", err)
	}
	return exists, nil
}

// List retrieves candidates with pagination.
func (r *PgScrapedArticleRepository) List(ctx context.Context, filter ScrapedFilter) ([]*domain.ScrapedArticle, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	where := squirrel.And{}
	if filter.SourceConfigID != nil {
		where = append(where, squirrel.Eq{"source_config_id": *filter.SourceConfigID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, squirrel.Eq{"status": statuses})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("scraped_articles").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count: %w", err)
	}
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count scraped articles: %w", err)
	}

	query, args, err := psql.Select(scrapedArticleColumns...).
		From("scraped_articles").
		Where(where).
		OrderBy("created_at DESC", "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scraped articles: %w", err)
	}
	defer rows.Close()

	articles := make([]*domain.ScrapedArticle, 0)
	for rows.Next() {
		a, err := scanScrapedArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan scraped article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating scraped articles: %w", err)
	}
	return articles, total, nil
}

func scanScrapedArticle(row pgx.Row) (*domain.ScrapedArticle, error) {
	var a domain.ScrapedArticle
	if err := row.Scan(
		&a.ID, &a.SourceConfigID, &a.SourceWebsite, &a.SourceURL, &a.URLHash, &a.TitleHash,
		&a.Title, &a.Content, &a.Summary, &a.MatchedKeywords, &a.PublishedDate, &a.Status,
		&a.RejectionReason, &a.GeneratedArticleID, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
