package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PendingEvent is an outbox row awaiting delivery.
type PendingEvent struct {
	domain.OutboxEvent
	Attempts    int
	MaxAttempts int
}

// PgRepository persists outbox events in PostgreSQL.
type PgRepository struct {
	db Querier
}

// NewPgRepository creates a repository; db is used when no querier is passed.
func NewPgRepository(db Querier) *PgRepository {
	return &PgRepository{db: db}
}

func (r *PgRepository) querier(q Querier) Querier {
	if q == nil {
		return r.db
	}
	return q
}

// InsertEvent writes event as pending.
func (r *PgRepository) InsertEvent(ctx context.Context, q Querier, event *domain.OutboxEvent, maxAttempts int) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	_, err = r.querier(q).Exec(ctx, `
		INSERT INTO outbox_events (
			id, event_version, aggregate_id, aggregate_type, event_type,
			payload, metadata, max_attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.EventID, event.EventVersion, event.AggregateID, event.AggregateType, event.EventType,
		event.Payload, metadata, maxAttempts, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", event.EventID, err)
	}
	return nil
}

// FetchPending locks up to limit pending rows in creation order. Rows locked
// by another relay are skipped.
func (r *PgRepository) FetchPending(ctx context.Context, q Querier, limit int) ([]PendingEvent, error) {
	rows, err := r.querier(q).Query(ctx, `
		SELECT id, event_version, aggregate_id, aggregate_type, event_type,
		       payload, metadata, attempts, max_attempts, created_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []PendingEvent
	for rows.Next() {
		var (
			e        PendingEvent
			metadata []byte
		)
		if err := rows.Scan(
			&e.EventID, &e.EventVersion, &e.AggregateID, &e.AggregateType, &e.EventType,
			&e.Payload, &metadata, &e.Attempts, &e.MaxAttempts, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", e.EventID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkPublished flags ids as delivered.
func (r *PgRepository) MarkPublished(ctx context.Context, q Querier, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.querier(q).Exec(ctx,
		`UPDATE outbox_events SET status = 'published', published_at = $2 WHERE id = ANY($1)`,
		ids, at,
	); err != nil {
		return fmt.Errorf("mark outbox events published: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt for ids. Rows that reach
// max_attempts move to failed and are no longer fetched.
func (r *PgRepository) MarkFailed(ctx context.Context, q Querier, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.querier(q).Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END
		WHERE id = ANY($1)`,
		ids, reason,
	); err != nil {
		return fmt.Errorf("mark outbox events failed: %w", err)
	}
	return nil
}
