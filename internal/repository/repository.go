// Package repository provides data access interfaces and their PostgreSQL
// implementations for the Article Pipeline Service.
//
// # Repository Interfaces
//
//   - ArticleRepository: generation articles and their state
//   - KeywordRepository: normalized keyword registry
//   - GenerationConfigRepository: the active provider and quality configuration
//   - SourceConfigRepository: news source configurations
//   - ScrapedArticleRepository: scraped candidates and their dedup hashes
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Wrap database errors with context using fmt.Errorf with %w verb.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrDedupConflict: a scraped candidate collides with a stored one
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Transactions
//
// Use the DBTX interface to support both pool and transaction contexts, or
// run several repositories atomically through a UnitOfWork:
//
//	uow := repository.NewPgUnitOfWork(db)
//	err := uow.WithinTx(ctx, func(s repository.Stores) error {
//	    kw, err := s.Keywords.GetOrCreate(ctx, title, category, domain.PriorityNormal)
//	    if err != nil {
//	        return err
//	    }
//	    return s.Articles.Create(ctx, domain.NewGenerationArticle(kw.ID))
//	})
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/article-pipeline-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and transactions.
type DBTX = database.DBTX

// txBeginner is implemented by pools and transactions (pgx nests through savepoints).
// Update methods use it to wrap SELECT FOR UPDATE + UPDATE in a transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// psql builds PostgreSQL-style placeholders for list queries.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

// pgErrorConstraint returns the violated constraint name when err is a
// PostgreSQL error with the given code.
func pgErrorConstraint(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	_, ok := pgErrorConstraint(err, pgUniqueViolation)
	return ok
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	_, ok := pgErrorConstraint(err, pgForeignKeyViolation)
	return ok
}

// withTx runs fn in a transaction when db can begin one, otherwise on db directly.
func withTx(ctx context.Context, db DBTX, fn func(DBTX) error) error {
	beginner, ok := db.(txBeginner)
	if !ok {
		return fn(db)
	}
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns the pointed-to string or "".
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
