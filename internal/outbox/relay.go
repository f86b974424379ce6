package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/article-pipeline-service/internal/config"
	"github.com/helixir/article-pipeline-service/internal/database"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

// relayLockName keys the advisory lock that keeps a single relay active.
const relayLockName = "article-pipeline:outbox-relay"

// MessageWriter is the subset of *kafka.Writer used by the Relay.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// TxBeginner starts transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RelayConfig configures the Relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Envelope is the Kafka message value written for each event.
type Envelope struct {
	EventID       string                 `json:"event_id"`
	EventVersion  int                    `json:"event_version"`
	EventType     string                 `json:"event_type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Relay moves pending outbox rows to Kafka.
type Relay struct {
	pool    TxBeginner
	repo    *PgRepository
	writer  MessageWriter
	config  RelayConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	lockKey int64
}

// NewRelay creates a Relay. metrics may be nil.
func NewRelay(pool TxBeginner, repo *PgRepository, writer MessageWriter, cfg RelayConfig, logger zerolog.Logger, metrics *observability.Metrics) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		pool:    pool,
		repo:    repo,
		writer:  writer,
		config:  cfg,
		logger:  logger.With().Str("component", "outbox-relay").Logger(),
		metrics: metrics,
		lockKey: database.AdvisoryKey(relayLockName),
	}
}

// NewKafkaWriter builds the writer for the configured outbox topic. Messages
// are keyed by aggregate id so events for one article stay ordered.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.config.PollInterval).
		Int("batch_size", r.config.BatchSize).
		Msg("outbox relay started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("outbox relay batch failed")
		}

		next := r.config.PollInterval
		if err == nil && n == r.config.BatchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// ProcessBatch relays one batch and returns the number of events published.
// It returns 0 without error when another relay holds the leader lock.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin relay transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	leader, err := database.TryAcquireAdvisoryLockTx(ctx, tx, r.lockKey)
	if err != nil {
		return 0, err
	}
	if !leader {
		r.logger.Debug().Msg("another relay holds the outbox lock")
		return 0, nil
	}

	events, err := r.repo.FetchPending(ctx, tx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		msg, err := toMessage(e)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
		ids = append(ids, e.EventID)
	}

	if writeErr := r.writer.WriteMessages(ctx, msgs...); writeErr != nil {
		if err := r.repo.MarkFailed(ctx, tx, ids, writeErr.Error()); err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("commit relay failure: %w", err)
		}
		if r.metrics != nil {
			r.metrics.RecordOutboxFailed()
		}
		return 0, fmt.Errorf("write %d outbox events: %w", len(msgs), writeErr)
	}

	if err := r.repo.MarkPublished(ctx, tx, ids, time.Now().UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit relay batch: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordOutboxPublished(len(ids))
	}
	r.logger.Debug().Int("count", len(ids)).Msg("outbox events relayed")
	return len(ids), nil
}

func toMessage(e PendingEvent) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{
		EventID:       e.EventID,
		EventVersion:  e.EventVersion,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       json.RawMessage(e.Payload),
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope %s: %w", e.EventID, err)
	}
	return kafka.Message{
		Key:   []byte(e.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "event_id", Value: []byte(e.EventID)},
		},
		Time: e.CreatedAt,
	}, nil
}
