package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ ArticleRepository = (*PgArticleRepository)(nil)

const articleColumns = `
	ga.id, ga.keyword_id, ga.status, ga.workflow_stage, ga.failed_stage,
	ga.artifacts, ga.scores, ga.quality_flags, ga.error_log, ga.review_log, ga.history,
	ga.generation_cycle, ga.retry_count, ga.workflow_id, ga.published_url, ga.visibility,
	ga.created_at, ga.updated_at, ga.generation_started_at, ga.generation_completed_at, ga.published_at,
	k.keyword, k.normalized_keyword, k.category, k.priority, k.created_at`

const articleFrom = `
	FROM generation_articles ga
	JOIN keywords k ON k.id = ga.keyword_id`

// PgArticleRepository is a PostgreSQL implementation of ArticleRepository.
type PgArticleRepository struct {
	db DBTX
}

// NewPgArticleRepository creates a new PostgreSQL article repository.
func NewPgArticleRepository(db DBTX) *PgArticleRepository {
	return &PgArticleRepository{db: db}
}

// Create inserts a new article.
func (r *PgArticleRepository) Create(ctx context.Context, article *domain.GenerationArticle) error {
	if article == nil {
		return domain.NewValidationError("article", "article cannot be nil")
	}
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	now := time.Now().UTC()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	article.UpdatedAt = now

	cols, err := encodeArticleJSON(article)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generation_articles (
			id, keyword_id, status, workflow_stage, failed_stage,
			artifacts, scores, quality_flags, error_log, review_log, history,
			generation_cycle, retry_count, workflow_id, published_url, visibility,
			created_at, updated_at, generation_started_at, generation_completed_at, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = r.db.Exec(ctx, query,
		article.ID, article.KeywordID, article.Status, article.WorkflowStage, stagePtr(article.FailedStage),
		cols.artifacts, cols.scores, cols.flags, cols.errorLog, cols.reviewLog, cols.history,
		article.GenerationCycle, article.RetryCount, article.WorkflowID, article.PublishedURL, article.Visibility,
		article.CreatedAt, article.UpdatedAt, article.GenerationStartedAt, article.GenerationCompletedAt, article.PublishedAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("keyword", article.KeywordID.String())
		}
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("article", article.ID.String())
		}
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

// Get retrieves an article with its keyword.
func (r *PgArticleRepository) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	query := `SELECT ` + articleColumns + articleFrom + ` WHERE ga.id = $1`

	article, err := scanArticle(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("article", id.String())
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return article, nil
}

// Update locks the article row with SELECT FOR UPDATE, applies fn and writes
// the mutable columns back. On a pool the whole sequence runs in its own
// transaction; inside a caller's transaction it joins that one.
func (r *PgArticleRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error {
	return withTx(ctx, r.db, func(db DBTX) error {
		return (&PgArticleRepository{db: db}).updateInTx(ctx, id, fn)
	})
}

func (r *PgArticleRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error {
	selectQuery := `SELECT ` + articleColumns + articleFrom + ` WHERE ga.id = $1 FOR UPDATE OF ga`

	article, err := scanArticle(r.db.QueryRow(ctx, selectQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("article", id.String())
		}
		return fmt.Errorf("failed to query article for update: %w", err)
	}

	if err := fn(article); err != nil {
		return err
	}
	article.UpdatedAt = time.Now().UTC()

	cols, err := encodeArticleJSON(article)
	if err != nil {
		return err
	}

	updateQuery := `
		UPDATE generation_articles SET
			status = $1,
			workflow_stage = $2,
			failed_stage = $3,
			artifacts = $4,
			scores = $5,
			quality_flags = $6,
			error_log = $7,
			review_log = $8,
			history = $9,
			generation_cycle = $10,
			retry_count = $11,
			workflow_id = $12,
			published_url = $13,
			visibility = $14,
			updated_at = $15,
			generation_started_at = $16,
			generation_completed_at = $17,
			published_at = $18
		WHERE id = $19`

	_, err = r.db.Exec(ctx, updateQuery,
		article.Status,
		article.WorkflowStage,
		stagePtr(article.FailedStage),
		cols.artifacts,
		cols.scores,
		cols.flags,
		cols.errorLog,
		cols.reviewLog,
		cols.history,
		article.GenerationCycle,
		article.RetryCount,
		article.WorkflowID,
		article.PublishedURL,
		article.Visibility,
		article.UpdatedAt,
		article.GenerationStartedAt,
		article.GenerationCompletedAt,
		article.PublishedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return nil
}

// Delete removes an article.
func (r *PgArticleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM generation_articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("article", id.String())
	}
	return nil
}

// List retrieves articles matching the filter with pagination.
func (r *PgArticleRepository) List(ctx context.Context, filter ArticleFilter) ([]*domain.GenerationArticle, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	var (
		conditions []string
		args       []interface{}
		argIndex   = 1
	)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("ga.status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Stage != "" {
		conditions = append(conditions, fmt.Sprintf("ga.workflow_stage = $%d", argIndex))
		args = append(args, filter.Stage)
		argIndex++
	}
	if filter.KeywordID != nil {
		conditions = append(conditions, fmt.Sprintf("ga.keyword_id = $%d", argIndex))
		args = append(args, *filter.KeywordID)
		argIndex++
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf("(k.keyword ILIKE $%d OR ga.artifacts->>'title' ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+s+"%")
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*)` + articleFrom + whereClause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count articles: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT %s%s%s ORDER BY ga.created_at DESC LIMIT $%d OFFSET $%d`,
		articleColumns, articleFrom, whereClause, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]*domain.GenerationArticle, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, total, nil
}

// articleJSON holds the JSONB column values of an article.
type articleJSON struct {
	artifacts, scores, flags, errorLog, reviewLog, history []byte
}

func encodeArticleJSON(a *domain.GenerationArticle) (articleJSON, error) {
	var (
		out articleJSON
		err error
	)
	if out.artifacts, err = json.Marshal(a.Artifacts); err != nil {
		return out, fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	if out.scores, err = json.Marshal(a.Scores); err != nil {
		return out, fmt.Errorf("failed to marshal scores: %w", err)
	}
	if out.flags, err = json.Marshal(a.QualityFlags); err != nil {
		return out, fmt.Errorf("failed to marshal quality flags: %w", err)
	}
	if out.errorLog, err = marshalList(a.ErrorLog); err != nil {
		return out, fmt.Errorf("failed to marshal error log: %w", err)
	}
	if out.reviewLog, err = marshalList(a.ReviewLog); err != nil {
		return out, fmt.Errorf("failed to marshal review log: %w", err)
	}
	if out.history, err = marshalList(a.History); err != nil {
		return out, fmt.Errorf("failed to marshal history: %w", err)
	}
	return out, nil
}

// marshalList encodes a nil slice as an empty JSON array.
func marshalList[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

// articleScanDest holds the destination pointers for scanning an article row.
type articleScanDest struct {
	article     domain.GenerationArticle
	keyword     domain.Keyword
	failedStage *string
	cols        articleJSON
}

func (d *articleScanDest) destinations() []interface{} {
	a := &d.article
	return []interface{}{
		&a.ID, &a.KeywordID, &a.Status, &a.WorkflowStage, &d.failedStage,
		&d.cols.artifacts, &d.cols.scores, &d.cols.flags, &d.cols.errorLog, &d.cols.reviewLog, &d.cols.history,
		&a.GenerationCycle, &a.RetryCount, &a.WorkflowID, &a.PublishedURL, &a.Visibility,
		&a.CreatedAt, &a.UpdatedAt, &a.GenerationStartedAt, &a.GenerationCompletedAt, &a.PublishedAt,
		&d.keyword.Keyword, &d.keyword.NormalizedKeyword, &d.keyword.Category, &d.keyword.Priority, &d.keyword.CreatedAt,
	}
}

func (d *articleScanDest) finalize() (*domain.GenerationArticle, error) {
	a := &d.article
	if d.failedStage != nil {
		stage := domain.Stage(*d.failedStage)
		a.FailedStage = &stage
	}

	targets := []struct {
		name string
		data []byte
		dst  interface{}
	}{
		{"artifacts", d.cols.artifacts, &a.Artifacts},
		{"scores", d.cols.scores, &a.Scores},
		{"quality flags", d.cols.flags, &a.QualityFlags},
		{"error log", d.cols.errorLog, &a.ErrorLog},
		{"review log", d.cols.reviewLog, &a.ReviewLog},
		{"history", d.cols.history, &a.History},
	}
	for _, t := range targets {
		if len(t.data) == 0 {
			continue
		}
		if err := json.Unmarshal(t.data, t.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", t.name, err)
		}
	}

	d.keyword.ID = a.KeywordID
	a.Keyword = &d.keyword
	return a, nil
}

// scanArticle scans one row; pgx.Rows satisfies pgx.Row once Next has been called.
func scanArticle(row pgx.Row) (*domain.GenerationArticle, error) {
	var dest articleScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

func stagePtr(s *domain.Stage) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
