package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Stores bundles repositories bound to one transaction. Querier is the
// transaction itself, for writers outside this package such as the outbox.
type Stores struct {
	Articles ArticleRepository
	Keywords KeywordRepository
	Sources  SourceConfigRepository
	Scraped  ScrapedArticleRepository
	Querier  DBTX
}

// UnitOfWork runs a function against repositories sharing one transaction.
type UnitOfWork interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// TxRunner is satisfied by *database.DB.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Compile-time interface verification.
var _ UnitOfWork = (*PgUnitOfWork)(nil)

// PgUnitOfWork is the PostgreSQL UnitOfWork.
type PgUnitOfWork struct {
	db TxRunner
}

// NewPgUnitOfWork creates a unit of work over db.
func NewPgUnitOfWork(db TxRunner) *PgUnitOfWork {
	return &PgUnitOfWork{db: db}
}

// WithinTx implements UnitOfWork.
func (u *PgUnitOfWork) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return u.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}

// NewStores binds every repository to db.
func NewStores(db DBTX) Stores {
	return Stores{
		Articles: NewPgArticleRepository(db),
		Keywords: NewPgKeywordRepository(db),
		Sources:  NewPgSourceConfigRepository(db),
		Scraped:  NewPgScrapedArticleRepository(db),
		Querier:  db,
	}
}
