// Package activities implements the Temporal activities that drive article
// generation. Each activity is a thin adapter over the pipeline state
// machine; the pipeline owns persistence, leases and events.
package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
)

// Application error types returned by pipeline activities. Workflows match
// on these to decide between stopping and retrying.
const (
	ErrTypeLeaseConflict = "LeaseConflict"
	ErrTypeInvalidState  = "InvalidState"
	ErrTypeCancelled     = "Cancelled"
	ErrTypeNotFound      = "NotFound"
)

// ArticlePipeline is the subset of *pipeline.Pipeline the activities drive.
type ArticlePipeline interface {
	Start(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
	AttachWorkflow(ctx context.Context, id uuid.UUID, workflowID string) error
	Advance(ctx context.Context, id uuid.UUID) (*pipeline.AdvanceResult, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.GenerationArticle, error)
	AdvanceBudget(ctx context.Context) (time.Duration, error)
}

// HeartbeatInterval is how often AdvanceStage heartbeats while a stage runs.
// Workflows set a heartbeat timeout of a few intervals.
const HeartbeatInterval = 20 * time.Second

// ArticleReader loads an article.
type ArticleReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
}

// PipelineActivities exposes the pipeline to workflows.
type PipelineActivities struct {
	pipeline          ArticlePipeline
	articles          ArticleReader
	heartbeatInterval time.Duration
}

// NewPipelineActivities creates PipelineActivities.
func NewPipelineActivities(p ArticlePipeline, articles ArticleReader) *PipelineActivities {
	return &PipelineActivities{pipeline: p, articles: articles, heartbeatInterval: HeartbeatInterval}
}

// ArticleState is the serializable view of an article a workflow needs.
type ArticleState struct {
	ArticleID uuid.UUID
	Status    domain.ArticleStatus
	Stage     domain.Stage
	Progress  float64
	// AdvanceTimeout bounds one AdvanceStage call under the active
	// generation config. Zero means unknown.
	AdvanceTimeout time.Duration
}

func stateOf(a *domain.GenerationArticle) ArticleState {
	return ArticleState{
		ArticleID: a.ID,
		Status:    a.Status,
		Stage:     a.WorkflowStage,
		Progress:  a.Progress(),
	}
}

// StartArticleInput is the input for StartArticle.
type StartArticleInput struct {
	ArticleID  uuid.UUID
	WorkflowID string
}

// StartArticle moves a queued article into generation, or resumes one that
// is already generating (after a retry or a lost worker), and records the
// workflow ID on it.
func (a *PipelineActivities) StartArticle(ctx context.Context, input StartArticleInput) (*ArticleState, error) {
	logger := activity.GetLogger(ctx)

	article, err := a.articles.Get(ctx, input.ArticleID)
	if err != nil {
		return nil, classify("load article", err)
	}

	switch article.Status {
	case domain.ArticleStatusQueued:
		article, err = a.pipeline.Start(ctx, input.ArticleID)
		if err != nil {
			return nil, classify("start article", err)
		}
	case domain.ArticleStatusGenerating:
		logger.Info("resuming article already generating", "articleID", input.ArticleID, "stage", article.WorkflowStage)
	default:
		return nil, classify("start article",
			domain.NewInvalidStateError("article", input.ArticleID.String(), "start", string(article.Status)))
	}

	if err := a.pipeline.AttachWorkflow(ctx, input.ArticleID, input.WorkflowID); err != nil {
		return nil, classify("attach workflow", err)
	}

	budget, err := a.pipeline.AdvanceBudget(ctx)
	if err != nil {
		return nil, classify("advance budget", err)
	}

	state := stateOf(article)
	state.AdvanceTimeout = budget
	return &state, nil
}

// AdvanceStageInput is the input for AdvanceStage.
type AdvanceStageInput struct {
	ArticleID uuid.UUID
}

// AdvanceStageOutput reports one executed stage.
type AdvanceStageOutput struct {
	State      ArticleState
	Executed   domain.Stage
	Failed     bool
	Error      string
	GateCycles int
	Shortfalls int
	// CancelledInFlight is set when the article was cancelled while the stage ran.
	CancelledInFlight bool
	// Done is set when the article has left the generating status.
	Done bool
}

// AdvanceStage executes the article's current stage. A stage failure is
// persisted by the pipeline and reported in the output, not as an error.
func (a *PipelineActivities) AdvanceStage(ctx context.Context, input AdvanceStageInput) (*AdvanceStageOutput, error) {
	logger := activity.GetLogger(ctx)

	stop := heartbeat(ctx, a.heartbeatInterval)
	res, err := a.pipeline.Advance(ctx, input.ArticleID)
	stop()
	if err != nil {
		return nil, classify("advance article", err)
	}

	out := &AdvanceStageOutput{
		State:             stateOf(res.Article),
		Executed:          res.Executed,
		GateCycles:        res.GateCycles,
		Shortfalls:        len(res.Shortfalls),
		CancelledInFlight: res.CancelledInFlight,
		Done:              res.Done(),
	}
	if res.Failure != nil {
		out.Failed = true
		out.Error = res.Failure.Error()
	}
	// The config may have changed since the run started.
	if budget, err := a.pipeline.AdvanceBudget(ctx); err == nil {
		out.State.AdvanceTimeout = budget
	} else {
		logger.Warn("failed to compute advance budget", "error", err)
	}

	logger.Info("stage advanced",
		"articleID", input.ArticleID,
		"executed", res.Executed,
		"status", out.State.Status,
		"next", out.State.Stage,
		"failed", out.Failed,
	)
	return out, nil
}

// heartbeat records activity heartbeats every interval until stop is called.
// Outside an activity it does nothing.
func heartbeat(ctx context.Context, interval time.Duration) (stop func()) {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// CancelArticleInput is the input for CancelArticle.
type CancelArticleInput struct {
	ArticleID uuid.UUID
	Reason    string
}

// CancelArticle cancels the article. Cancelling an already cancelled
// article succeeds; cancelling a finished one returns an InvalidState error.
func (a *PipelineActivities) CancelArticle(ctx context.Context, input CancelArticleInput) (*ArticleState, error) {
	article, err := a.pipeline.Cancel(ctx, input.ArticleID, input.Reason)
	if err != nil {
		return nil, classify("cancel article", err)
	}
	state := stateOf(article)
	return &state, nil
}

// classify converts domain errors into Temporal application errors. Lease
// conflicts and infrastructure errors stay retryable; state errors do not.
func classify(op string, err error) error {
	msg := fmt.Sprintf("%s: %v", op, err)
	switch {
	case errors.Is(err, domain.ErrLeaseConflict):
		return temporal.NewApplicationErrorWithCause(msg, ErrTypeLeaseConflict, err)
	case errors.Is(err, domain.ErrCancelled):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeCancelled, err)
	case errors.Is(err, domain.ErrInvalidState):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeInvalidState, err)
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
