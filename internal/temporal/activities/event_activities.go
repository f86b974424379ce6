package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/outbox"
)

// EventPublisher is the interface used by EventActivities to publish events.
type EventPublisher interface {
	PublishNonTx(ctx context.Context, params outbox.EmitParams) error
}

// EventActivities publishes workflow-level domain events through the outbox.
// Article lifecycle events are emitted by the pipeline itself; these cover
// what only the workflow knows, such as a run ending on an infrastructure
// error.
type EventActivities struct {
	publisher EventPublisher
}

// NewEventActivities creates a new EventActivities with the given publisher.
func NewEventActivities(publisher EventPublisher) *EventActivities {
	return &EventActivities{publisher: publisher}
}

// PublishEventInput is the serializable input for the PublishEvent activity.
type PublishEventInput struct {
	// EventType is one of the domain.EventType* constants.
	EventType string

	// ArticleID is the aggregate the event is about.
	ArticleID uuid.UUID

	// WorkflowID correlates the event with the workflow run.
	WorkflowID string

	// Payload is the event payload that will be JSON-serialized.
	Payload map[string]interface{}
}

// PublishEvent publishes a domain event through the outbox. Workflows call
// it fire-and-forget: a publishing failure never fails the workflow.
func (a *EventActivities) PublishEvent(ctx context.Context, input PublishEventInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("publishing event",
		"eventType", input.EventType,
		"articleID", input.ArticleID,
	)

	err := a.publisher.PublishNonTx(ctx, outbox.EmitParams{
		AggregateID:   input.ArticleID.String(),
		AggregateType: domain.AggregateArticle,
		EventType:     input.EventType,
		Payload:       input.Payload,
		CorrelationID: input.WorkflowID,
	})
	if err != nil {
		logger.Error("failed to publish event",
			"eventType", input.EventType,
			"articleID", input.ArticleID,
			"error", err,
		)
		return fmt.Errorf("publish event %s: %w", input.EventType, err)
	}
	return nil
}
