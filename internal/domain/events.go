package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for outbox events.
const (
	EventTypeArticleQueued            = "article.queued"
	EventTypeArticleGenerationStarted = "article.generation_started"
	EventTypeArticleStageCompleted    = "article.stage_completed"
	EventTypeArticleFailed            = "article.failed"
	EventTypeArticleCancelled         = "article.cancelled"
	EventTypeArticleReviewing         = "article.reviewing"
	EventTypeArticleApproved          = "article.approved"
	EventTypeArticleRejected          = "article.rejected"
	EventTypeArticleRegenerated       = "article.regenerated"
	EventTypeArticlePublished         = "article.published"
	EventTypeArticleDeleted           = "article.deleted"
	EventTypeScrapeCompleted          = "scrape.completed"
	EventTypeScrapedArticleApproved   = "scraped_article.approved"
)

// Aggregate types used on outbox events.
const (
	AggregateArticle        = "generation_article"
	AggregateSourceConfig   = "news_source_config"
	AggregateScrapedArticle = "scraped_article"
)

// OutboxEvent represents an event to be published via the outbox pattern.
type OutboxEvent struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Metadata      map[string]interface{}
	CreatedAt     time.Time
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *OutboxEvent) WithMetadata(metadata map[string]interface{}) *OutboxEvent {
	e.Metadata = metadata
	return e
}

// ArticleEventPayload is the payload shared by article lifecycle events.
type ArticleEventPayload struct {
	ArticleID       uuid.UUID     `json:"article_id"`
	KeywordID       uuid.UUID     `json:"keyword_id"`
	Status          ArticleStatus `json:"status"`
	Stage           Stage         `json:"stage"`
	GenerationCycle int           `json:"generation_cycle"`
	Progress        float64       `json:"progress"`
	Error           string        `json:"error,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// NewArticleEventPayload builds a payload from the article's current state.
func NewArticleEventPayload(a *GenerationArticle) ArticleEventPayload {
	return ArticleEventPayload{
		ArticleID:       a.ID,
		KeywordID:       a.KeywordID,
		Status:          a.Status,
		Stage:           a.WorkflowStage,
		GenerationCycle: a.GenerationCycle,
		Progress:        a.Progress(),
	}
}

// ArticlePublishedPayload is the payload for article.published events.
type ArticlePublishedPayload struct {
	ArticleID    uuid.UUID  `json:"article_id"`
	Title        string     `json:"title"`
	PublishedURL string     `json:"published_url"`
	Visibility   Visibility `json:"visibility"`
}

// ScrapeCompletedPayload is the payload for scrape.completed events.
type ScrapeCompletedPayload struct {
	ConfigID        uuid.UUID     `json:"config_id"`
	TotalFound      int           `json:"total_found"`
	ArticlesCreated int           `json:"articles_created"`
	Duplicates      int           `json:"duplicates"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// ScrapedArticleApprovedPayload is the payload for scraped_article.approved events.
type ScrapedArticleApprovedPayload struct {
	ScrapedArticleID   uuid.UUID  `json:"scraped_article_id"`
	GeneratedArticleID *uuid.UUID `json:"generated_article_id,omitempty"`
	AutoGenerate       bool       `json:"auto_generate"`
}
