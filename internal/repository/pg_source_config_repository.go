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
var _ SourceConfigRepository = (*PgSourceConfigRepository)(nil)

var sourceConfigColumns = []string{
	"id", "name", "keywords", "source_websites", "category", "max_articles_per_scrape",
	"scrape_frequency", "status", "last_scraped_at", "created_at", "updated_at",
}

// PgSourceConfigRepository is a PostgreSQL implementation of SourceConfigRepository.
type PgSourceConfigRepository struct {
	db DBTX
}

// NewPgSourceConfigRepository creates a new PostgreSQL source config repository.
func NewPgSourceConfigRepository(db DBTX) *PgSourceConfigRepository {
	return &PgSourceConfigRepository{db: db}
}

// Create validates and inserts a configuration.
func (r *PgSourceConfigRepository) Create(ctx context.Context, cfg *domain.NewsSourceConfig) error {
	if cfg == nil {
		return domain.NewValidationError("source_config", "config cannot be nil")
	}
	if cfg.Status == "" {
		cfg.Status = domain.SourceStatusActive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	query, args, err := psql.Insert("news_source_configs").
		Columns(sourceConfigColumns...).
		Values(cfg.ID, cfg.Name, nonNilStrings(cfg.Keywords), cfg.SourceWebsites, cfg.Category, cfg.MaxArticlesPerScrape,
			cfg.ScrapeFrequency, cfg.Status, cfg.LastScrapedAt, cfg.CreatedAt, cfg.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("source_config", cfg.ID.String())
		}
		return fmt.Errorf("failed to create source config: %w", err)
	}
	return nil
}

// Get retrieves a configuration.
func (r *PgSourceConfigRepository) Get(ctx context.Context, id uuid.UUID) (*domain.NewsSourceConfig, error) {
	query, args, err := psql.Select(sourceConfigColumns...).
		From("news_source_configs").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	cfg, err := scanSourceConfig(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("source_config", id.String())
		}
		return nil, fmt.Errorf("failed to get source config: %w", err)
	}
	return cfg, nil
}

// Update replaces the mutable fields of a configuration.
func (r *PgSourceConfigRepository) Update(ctx context.Context, cfg *domain.NewsSourceConfig) error {
	if cfg == nil {
		return domain.NewValidationError("source_config", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()

	query, args, err := psql.Update("news_source_configs").
		Set("name", cfg.Name).
		Set("keywords", nonNilStrings(cfg.Keywords)).
		Set("source_websites", cfg.SourceWebsites).
		Set("category", cfg.Category).
		Set("max_articles_per_scrape", cfg.MaxArticlesPerScrape).
		Set("scrape_frequency", cfg.ScrapeFrequency).
		Set("status", cfg.Status).
		Set("updated_at", cfg.UpdatedAt).
		Where(squirrel.Eq{"id": cfg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update source config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source_config", cfg.ID.String())
	}
	return nil
}

// Delete removes a configuration.
func (r *PgSourceConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM news_source_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source_config", id.String())
	}
	return nil
}

// List retrieves configurations with pagination.
func (r *PgSourceConfigRepository) List(ctx context.Context, filter SourceFilter) ([]*domain.NewsSourceConfig, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	where := squirrel.And{}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": filter.Status})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("news_source_configs").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count: %w", err)
	}
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count source configs: %w", err)
	}

	query, args, err := psql.Select(sourceConfigColumns...).
		From("news_source_configs").
		Where(where).
		OrderBy("name", "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build select: %w", err)
	}

	configs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return configs, total, nil
}

// ListActive retrieves every active configuration.
func (r *PgSourceConfigRepository) ListActive(ctx context.Context) ([]*domain.NewsSourceConfig, error) {
	query, args, err := psql.Select(sourceConfigColumns...).
		From("news_source_configs").
		Where(squirrel.Eq{"status": domain.SourceStatusActive}).
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	return r.query(ctx, query, args...)
}

// MarkScraped stamps the last scrape time.
func (r *PgSourceConfigRepository) MarkScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE news_source_configs SET last_scraped_at = $1, updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark source config scraped: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("source_config", id.String())
	}
	return nil
}

func (r *PgSourceConfigRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.NewsSourceConfig, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list source configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*domain.NewsSourceConfig, 0)
	for rows.Next() {
		cfg, err := scanSourceConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source configs: %w", err)
	}
	return configs, nil
}

func scanSourceConfig(row pgx.Row) (*domain.NewsSourceConfig, error) {
	var cfg domain.NewsSourceConfig
	if err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Keywords, &cfg.SourceWebsites, &cfg.Category, &cfg.MaxArticlesPerScrape,
		&cfg.ScrapeFrequency, &cfg.Status, &cfg.LastScrapedAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// nonNilStrings keeps NOT NULL array columns from receiving NULL.
func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
