package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the intake listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying approved topics.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes topic messages from Kafka and enqueues articles.
type Listener struct {
	reader   MessageReader
	enqueuer *Enqueuer
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewListener creates a listener reading cfg.Topic with a kafka-go consumer group.
func NewListener(cfg Config, enqueuer *Enqueuer, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return NewListenerWithReader(reader, enqueuer, metrics, logger)
}

// NewListenerWithReader creates a listener over an existing reader.
func NewListenerWithReader(reader MessageReader, enqueuer *Enqueuer, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:   reader,
		enqueuer: enqueuer,
		metrics:  metrics,
		logger:   logger.With().Str("component", "intake_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until ctx is cancelled.
// Malformed or invalid messages are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting intake listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("intake listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received topic message")

		l.record(l.handle(ctx, msg))
	}
}

func (l *Listener) handle(ctx context.Context, msg kafka.Message) string {
	var topic Topic
	if err := json.Unmarshal(msg.Value, &topic); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal topic message")
		return "malformed"
	}

	article, err := l.enqueuer.Enqueue(ctx, topic)
	if err != nil {
		event := l.logger.Error()
		result := "error"
		if errors.Is(err, domain.ErrInvalidInput) {
			event = l.logger.Warn()
			result = "invalid"
		}
		event.Err(err).Str("keyword", topic.Keyword).Msg("failed to enqueue topic")
		return result
	}

	l.logger.Debug().Str("article_id", article.ID.String()).Msg("topic enqueued")
	return "enqueued"
}

func (l *Listener) record(result string) {
	if l.metrics != nil {
		l.metrics.RecordIntakeMessage(result)
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing intake listener")
	return l.reader.Close()
}
