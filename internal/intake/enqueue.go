// Package intake creates queued generation articles from approved topics.
//
// Topics arrive either from operators through the HTTP control surface or
// from the Kafka intake topic consumed by Listener. Both go through
// Enqueuer, which derives the Keyword and queues the article in one
// transaction together with its article.queued event.
package intake

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Topic is a request to generate an article about a keyword.
type Topic struct {
	Keyword  string `json:"keyword" validate:"required,max=500"`
	Category string `json:"category" validate:"max=100"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high"`
	// AutoStart starts generation right after queueing.
	AutoStart bool `json:"auto_start"`
}

// EventPublisher records events inside the enqueue transaction.
type EventPublisher interface {
	Publish(ctx context.Context, q outbox.Querier, params outbox.EmitParams) error
}

// Starter starts generation of a queued article.
type Starter interface {
	StartArticle(ctx context.Context, articleID uuid.UUID) error
}

// Enqueuer turns topics into queued generation articles.
type Enqueuer struct {
	uow     repository.UnitOfWork
	events  EventPublisher
	starter Starter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewEnqueuer creates an Enqueuer. events, starter and metrics may be nil;
// without a starter AutoStart is ignored.
func NewEnqueuer(uow repository.UnitOfWork, events EventPublisher, starter Starter, metrics *observability.Metrics, logger zerolog.Logger) *Enqueuer {
	return &Enqueuer{
		uow:     uow,
		events:  events,
		starter: starter,
		metrics: metrics,
		logger:  logger.With().Str("component", "intake").Logger(),
	}
}

// Enqueue validates t, gets or creates its keyword and queues an article.
// A start failure after a successful enqueue is logged and the queued
// article is still returned; operators can start it later.
func (e *Enqueuer) Enqueue(ctx context.Context, t Topic) (*domain.GenerationArticle, error) {
	if err := validate.Struct(t); err != nil {
		return nil, domain.NewValidationError("topic", err.Error())
	}
	priority, err := domain.ParsePriority(t.Priority)
	if err != nil {
		return nil, err
	}

	var article *domain.GenerationArticle
	err = e.uow.WithinTx(ctx, func(st repository.Stores) error {
		kw, err := st.Keywords.GetOrCreate(ctx, t.Keyword, t.Category, priority)
		if err != nil {
			return err
		}
		article = domain.NewGenerationArticle(kw.ID)
		article.Keyword = kw
		if err := st.Articles.Create(ctx, article); err != nil {
			return err
		}
		if e.events == nil {
			return nil
		}
		if err := e.events.Publish(ctx, st.Querier, outbox.EmitParams{
			AggregateID:   article.ID.String(),
			AggregateType: domain.AggregateArticle,
			EventType:     domain.EventTypeArticleQueued,
			Payload:       domain.NewArticleEventPayload(article),
			RequestID:     observability.RequestIDFromContext(ctx),
		}); err != nil {
			return fmt.Errorf("failed to record queued event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordArticleQueued()
	}
	logger := observability.WithArticleContext(e.logger, article.ID.String(), string(article.WorkflowStage))
	logger.Info().Str("keyword", t.Keyword).Str("category", t.Category).Msg("article queued")

	if t.AutoStart && e.starter != nil {
		if err := e.starter.StartArticle(ctx, article.ID); err != nil {
			logger.Error().Err(err).Msg("failed to start queued article")
		}
	}
	return article, nil
}
