// Package review implements the human decisions taken on a generated article:
// approve, reject (optionally regenerating from the same keyword) and publish.
//
// Review operations only apply once generation has finished. Approve needs
// reviewing, Reject needs reviewing or approved, and Publish needs approved.
// Publishing is irreversible.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/lease"
	"github.com/helixir/article-pipeline-service/internal/observability"
	"github.com/helixir/article-pipeline-service/internal/outbox"
)

// ArticleStore persists generation articles.
type ArticleStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error
}

// ContentStore makes an approved article publicly reachable and returns its URL.
type ContentStore interface {
	Publish(ctx context.Context, a *domain.GenerationArticle, visibility domain.Visibility) (string, error)
}

// EventPublisher records domain events outside a transaction.
type EventPublisher interface {
	PublishNonTx(ctx context.Context, params outbox.EmitParams) error
}

// Starter starts generation for a queued article.
type Starter interface {
	StartArticle(ctx context.Context, id uuid.UUID) error
}

// Dependencies are the collaborators of a Workflow. Locker, Events, Starter
// and Metrics are optional.
type Dependencies struct {
	Articles ArticleStore
	Content  ContentStore
	Locker   lease.Locker
	Events   EventPublisher
	Starter  Starter
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Workflow applies review decisions.
type Workflow struct {
	articles ArticleStore
	content  ContentStore
	locker   lease.Locker
	events   EventPublisher
	starter  Starter
	metrics  *observability.Metrics
	logger   zerolog.Logger
	leaseTTL time.Duration
	now      func() time.Time
}

// NewWorkflow creates a review Workflow.
func NewWorkflow(deps Dependencies) *Workflow {
	return &Workflow{
		articles: deps.Articles,
		content:  deps.Content,
		locker:   deps.Locker,
		events:   deps.Events,
		starter:  deps.Starter,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "review").Logger(),
		leaseTTL: 5 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Approve moves a reviewing article to approved. When any quality flag is
// set the review entry records a quality override.
func (w *Workflow) Approve(ctx context.Context, id uuid.UUID, notes, reviewer string) (*domain.GenerationArticle, error) {
	var out *domain.GenerationArticle
	err := w.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		out = a
		if a.Status != domain.ArticleStatusReviewing {
			return domain.NewInvalidStateError("article", id.String(), "approve", string(a.Status))
		}
		if err := a.TransitionTo("approve", domain.ArticleStatusApproved); err != nil {
			return err
		}
		a.ReviewLog = append(a.ReviewLog, domain.ReviewEntry{
			Timestamp:       w.now(),
			Action:          domain.ReviewActionApprove,
			Reviewer:        reviewer,
			Notes:           notes,
			QualityOverride: a.QualityFlags.Any(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.record(domain.ReviewActionApprove)
	ev := w.logger.Info().Str("article_id", id.String()).Str("reviewer", reviewer)
	if out.QualityFlags.Any() {
		ev = ev.Bool("quality_override", true)
	}
	ev.Msg("article approved")
	w.publish(ctx, out, domain.EventTypeArticleApproved, reviewer)
	return out, nil
}

// Reject rejects a reviewing or approved article. With regenerate the
// current output is archived into History and the article is queued for a
// new generation cycle on the same keyword; otherwise it becomes rejected.
// Rejecting an already rejected article without regenerate returns it
// unchanged.
func (w *Workflow) Reject(ctx context.Context, id uuid.UUID, notes string, regenerate bool) (*domain.GenerationArticle, error) {
	var (
		out  *domain.GenerationArticle
		noop bool
	)
	err := w.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		out = a
		if a.Status == domain.ArticleStatusRejected && !regenerate {
			noop = true
			return nil
		}
		if a.Status != domain.ArticleStatusReviewing && a.Status != domain.ArticleStatusApproved {
			return domain.NewInvalidStateError("article", id.String(), "reject", string(a.Status))
		}

		if !regenerate {
			if err := a.TransitionTo("reject", domain.ArticleStatusRejected); err != nil {
				return err
			}
			a.ReviewLog = append(a.ReviewLog, domain.ReviewEntry{
				Timestamp: w.now(),
				Action:    domain.ReviewActionReject,
				Notes:     notes,
			})
			return nil
		}

		if err := a.TransitionTo("regenerate", domain.ArticleStatusQueued); err != nil {
			return err
		}
		a.Archive(notes)
		a.ReviewLog = append(a.ReviewLog, domain.ReviewEntry{
			Timestamp: w.now(),
			Action:    domain.ReviewActionRegenerate,
			Notes:     notes,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return out, nil
	}

	logger := w.logger.With().Str("article_id", id.String()).Logger()
	if !regenerate {
		w.record(domain.ReviewActionReject)
		logger.Info().Msg("article rejected")
		w.publish(ctx, out, domain.EventTypeArticleRejected, notes)
		return out, nil
	}

	w.record(domain.ReviewActionRegenerate)
	if w.metrics != nil {
		w.metrics.RecordArticleQueued()
	}
	logger.Info().Int("generation_cycle", out.GenerationCycle).Msg("article queued for regeneration")
	w.publish(ctx, out, domain.EventTypeArticleRegenerated, notes)

	if w.starter != nil {
		if err := w.starter.StartArticle(ctx, id); err != nil {
			logger.Warn().Err(err).Msg("failed to start regeneration, article stays queued")
		}
	}
	return out, nil
}

// Publish makes an approved article public through the content store. The
// article lease is held for the duration so concurrent publishes cannot
// both upload. Publishing twice returns an InvalidStateError.
func (w *Workflow) Publish(ctx context.Context, id uuid.UUID, visibility domain.Visibility) (*domain.GenerationArticle, error) {
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if _, err := domain.ParseVisibility(string(visibility)); err != nil {
		return nil, err
	}
	if w.content == nil {
		return nil, fmt.Errorf("publish article %s: no content store configured", id)
	}

	if w.locker != nil {
		key := lease.ArticleKey(id.String())
		l, err := w.locker.Acquire(ctx, key, w.leaseTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLeaseConflict) && w.metrics != nil {
				w.metrics.RecordLeaseConflict(lease.Scope(key))
			}
			return nil, err
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn().Err(err).Str("lease", l.Key()).Msg("failed to release lease")
			}
		}()
	}

	a, err := w.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.ArticleStatusApproved {
		return nil, domain.NewInvalidStateError("article", id.String(), "publish", string(a.Status))
	}

	url, err := w.content.Publish(ctx, a, visibility)
	if err != nil {
		return nil, fmt.Errorf("publish article %s: %w", id, err)
	}

	var out *domain.GenerationArticle
	err = w.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		out = a
		if err := a.TransitionTo("publish", domain.ArticleStatusPublished); err != nil {
			return err
		}
		now := w.now()
		a.PublishedURL = url
		a.Visibility = visibility
		a.PublishedAt = &now
		a.ReviewLog = append(a.ReviewLog, domain.ReviewEntry{
			Timestamp: now,
			Action:    domain.ReviewActionPublish,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.RecordPublished(string(visibility))
	}
	w.logger.Info().Str("article_id", id.String()).Str("url", url).Str("visibility", string(visibility)).
		Msg("article published")
	w.publishPublished(ctx, out)
	return out, nil
}

func (w *Workflow) record(action domain.ReviewAction) {
	if w.metrics != nil {
		w.metrics.RecordReviewDecision(string(action))
	}
}

func (w *Workflow) publish(ctx context.Context, a *domain.GenerationArticle, eventType, reason string) {
	payload := domain.NewArticleEventPayload(a)
	payload.Reason = reason
	w.emit(ctx, a.ID, eventType, payload)
}

func (w *Workflow) publishPublished(ctx context.Context, a *domain.GenerationArticle) {
	w.emit(ctx, a.ID, domain.EventTypeArticlePublished, domain.ArticlePublishedPayload{
		ArticleID:    a.ID,
		Title:        a.Artifacts.Title,
		PublishedURL: a.PublishedURL,
		Visibility:   a.Visibility,
	})
}

func (w *Workflow) emit(ctx context.Context, id uuid.UUID, eventType string, payload any) {
	if w.events == nil {
		return
	}
	err := w.events.PublishNonTx(ctx, outbox.EmitParams{
		AggregateID:   id.String(),
		AggregateType: domain.AggregateArticle,
		EventType:     eventType,
		Payload:       payload,
		RequestID:     observability.RequestIDFromContext(ctx),
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("article_id", id.String()).Str("event_type", eventType).Msg("failed to publish event")
	}
}
