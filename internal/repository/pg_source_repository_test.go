package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

func newTestSourceConfig() *domain.NewsSourceConfig {
	return &domain.NewsSourceConfig{
		ID:                   uuid.New(),
		Name:                 "Energy desk",
		Keywords:             []string{"solar", "wind"},
		SourceWebsites:       []string{"https://news.example.com/feed.xml"},
		Category:             "energy",
		MaxArticlesPerScrape: 20,
		ScrapeFrequency:      domain.FrequencyHourly,
	}
}

func sourceConfigRows(cfgs ...*domain.NewsSourceConfig) *pgxmock.Rows {
	rows := pgxmock.NewRows(sourceConfigColumns)
	for _, c := range cfgs {
		rows.AddRow(c.ID, c.Name, c.Keywords, c.SourceWebsites, c.Category, c.MaxArticlesPerScrape,
			c.ScrapeFrequency, c.Status, c.LastScrapedAt, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

func TestPgSourceConfigRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults status to active", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSourceConfigRepository(mock)
		cfg := newTestSourceConfig()

		mock.ExpectExec(`INSERT INTO news_source_configs \(id,name,keywords,source_websites,category,max_articles_per_scrape,scrape_frequency,status,last_scraped_at,created_at,updated_at\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9,\$10,\$11\)`).
			WithArgs(cfg.ID, "Energy desk", []string{"solar", "wind"}, cfg.SourceWebsites, "energy", 20,
				domain.FrequencyHourly, domain.SourceStatusActive, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, cfg))
		assert.Equal(t, domain.SourceStatusActive, cfg.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validates before insert", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		cfg := newTestSourceConfig()
		cfg.SourceWebsites = nil

		err = NewPgSourceConfigRepository(mock).Create(ctx, cfg)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgSourceConfigRepository_GetAndList(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgSourceConfigRepository(mock)
	cfg := newTestSourceConfig()
	cfg.Status = domain.SourceStatusActive

	mock.ExpectQuery(`SELECT .* FROM news_source_configs WHERE id = \$1`).
		WithArgs(cfg.ID.String()).
		WillReturnRows(sourceConfigRows(cfg))
	got, err := repo.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Keywords, got.Keywords)

	missing := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM news_source_configs WHERE id = \$1`).
		WithArgs(missing.String()).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(ctx, missing)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	mock.ExpectQuery(`SELECT .* FROM news_source_configs WHERE status = \$1 ORDER BY name, id`).
		WithArgs(domain.SourceStatusActive).
		WillReturnRows(sourceConfigRows(cfg))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM news_source_configs WHERE \(1=1\)`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT .* FROM news_source_configs WHERE \(1=1\) ORDER BY name, id LIMIT 100 OFFSET 0`).
		WillReturnRows(sourceConfigRows(cfg))
	list, total, err := repo.List(ctx, SourceFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSourceConfigRepository_UpdateAndMarkScraped(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgSourceConfigRepository(mock)
	cfg := newTestSourceConfig()
	cfg.Status = domain.SourceStatusInactive

	mock.ExpectExec(`UPDATE news_source_configs SET name = \$1, keywords = \$2, .* WHERE id = \$9`).
		WithArgs("Energy desk", cfg.Keywords, cfg.SourceWebsites, "energy", 20, domain.FrequencyHourly,
			domain.SourceStatusInactive, pgxmock.AnyArg(), cfg.ID.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.Update(ctx, cfg)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE news_source_configs SET last_scraped_at = \$1, updated_at = \$1 WHERE id = \$2`).
		WithArgs(at, cfg.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.MarkScraped(ctx, cfg.ID, at))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestScraped() *domain.ScrapedArticle {
	return &domain.ScrapedArticle{
		ID:              uuid.New(),
		SourceConfigID:  uuid.New(),
		SourceWebsite:   "https://news.example.com/feed.xml",
		SourceURL:       "https://news.example.com/solar",
		URLHash:         "u1",
		TitleHash:       "t1",
		Title:           "Solar capacity doubles",
		MatchedKeywords: []string{"solar"},
		Status:          domain.ScrapedStatusPending,
	}
}

func scrapedRows(a *domain.ScrapedArticle) *pgxmock.Rows {
	return pgxmock.NewRows(scrapedArticleColumns).AddRow(
		a.ID, a.SourceConfigID, a.SourceWebsite, a.SourceURL, a.URLHash, a.TitleHash,
		a.Title, a.Content, a.Summary, a.MatchedKeywords, a.PublishedDate, a.Status,
		a.RejectionReason, a.GeneratedArticleID, a.CreatedAt, a.UpdatedAt,
	)
}

func TestPgScrapedArticleRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts pending candidate", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		a := newTestScraped()
		a.Status = ""
		mock.ExpectExec(`INSERT INTO scraped_articles`).
			WithArgs(a.ID, a.SourceConfigID, a.SourceWebsite, a.SourceURL, "u1", "t1",
				a.Title, "", "", []string{"solar"}, pgxmock.AnyArg(), domain.ScrapedStatusPending,
				"", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgScrapedArticleRepository(mock).Create(ctx, a))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a dedup conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		a := newTestScraped()
		mock.ExpectExec(`INSERT INTO scraped_articles`).
			WithArgs(anyArgs(len(scrapedArticleColumns))...).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "uq_scraped_articles_url_hash"})

		err = NewPgScrapedArticleRepository(mock).Create(ctx, a)
		var conflict *domain.DedupConflict
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, a.SourceURL, conflict.URL)
		assert.True(t, errors.Is(err, domain.ErrDedupConflict))
	})
}

func TestPgScrapedArticleRepository_ExistsByHashes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM scraped_articles WHERE url_hash = \$1 OR \(source_website = \$2 AND title_hash = \$3\) \)`).
		WithArgs("u1", "https://news.example.com", "t1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewPgScrapedArticleRepository(mock).ExistsByHashes(context.Background(), "u1", "https://news.example.com", "t1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgScrapedArticleRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgScrapedArticleRepository(mock)
	a := newTestScraped()
	generated := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM scraped_articles WHERE id = \$1 FOR UPDATE`).
		WithArgs(a.ID.String()).
		WillReturnRows(scrapedRows(a))
	mock.ExpectExec(`UPDATE scraped_articles SET status = \$1, rejection_reason = \$2, generated_article_id = \$3, matched_keywords = \$4, updated_at = \$5 WHERE id = \$6`).
		WithArgs(domain.ScrapedStatusGenerated, "", &generated, []string{"solar"}, pgxmock.AnyArg(), a.ID.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = repo.Update(ctx, a.ID, func(s *domain.ScrapedArticle) error {
		s.Status = domain.ScrapedStatusGenerated
		s.GeneratedArticleID = &generated
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgScrapedArticleRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := newTestScraped()
	configID := a.SourceConfigID

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM scraped_articles WHERE \(source_config_id = \$1 AND status IN \(\$2,\$3\)\)`).
		WithArgs(configID.String(), "pending", "approved").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT .* FROM scraped_articles WHERE .* ORDER BY created_at DESC, id LIMIT 10 OFFSET 20`).
		WithArgs(configID.String(), "pending", "approved").
		WillReturnRows(scrapedRows(a))

	list, total, err := NewPgScrapedArticleRepository(mock).List(context.Background(), ScrapedFilter{
		SourceConfigID: &configID,
		Statuses:       []domain.ScrapedStatus{domain.ScrapedStatusPending, domain.ScrapedStatusApproved},
		Limit:          10,
		Offset:         20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
