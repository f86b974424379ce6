// Package workflows defines the Temporal workflow that drives an article
// through the generation pipeline.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/article-pipeline-service/internal/domain"
	arttemporal "github.com/helixir/article-pipeline-service/internal/temporal"
	"github.com/helixir/article-pipeline-service/internal/temporal/activities"
)

// Re-export signal/query names so callers holding only this package can use them.
const (
	SignalCancel  = arttemporal.SignalCancel
	QueryProgress = arttemporal.QueryProgress
)

const (
	defaultStageActivityTimeout = 5 * time.Minute
	controlActivityTimeout      = 30 * time.Second
	// fallbackAdvanceCalls sizes the advance timeout when the start activity
	// did not report a budget: one stage plus two rewrite cycles of two
	// stages for each gate.
	fallbackAdvanceCalls = 9
)

// ArticleGenerationResult is the outcome of one generation run.
type ArticleGenerationResult struct {
	ArticleID      uuid.UUID
	Status         domain.ArticleStatus
	Stage          domain.Stage
	StagesExecuted int
	GateCycles     int
	Shortfalls     int
	// Error is the persisted stage failure when Status is failed.
	Error string
}

// ArticleGenerationWorkflow advances an article stage by stage until it
// leaves the generating status. Stage failures are persisted by the pipeline
// and end the run normally; only infrastructure errors fail the workflow.
func ArticleGenerationWorkflow(ctx workflow.Context, input arttemporal.ArticleGenerationInput) (*ArticleGenerationResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("starting article generation", "articleID", input.ArticleID)

	stageTimeout := input.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = defaultStageActivityTimeout
	}

	progress := &arttemporal.WorkflowProgress{
		ArticleID: input.ArticleID,
		Status:    domain.ArticleStatusQueued,
		Stage:     domain.FirstStage(),
	}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*arttemporal.WorkflowProgress, error) {
		return progress, nil
	}); err != nil {
		return nil, fmt.Errorf("register progress query: %w", err)
	}

	// Cancellation signal stops the advance loop; the article is cancelled
	// afterwards on a disconnected context.
	loopCtx, cancelLoop := workflow.WithCancel(ctx)
	var cancelReason string
	signalCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		var sig arttemporal.CancelSignal
		signalCh.Receive(gCtx, &sig)
		logger.Info("received cancel signal", "reason", sig.Reason)
		cancelReason = sig.Reason
		progress.CancelRequest = true
		cancelLoop()
	})

	var pipelineAct *activities.PipelineActivities
	var eventAct *activities.EventActivities

	nonRetryable := []string{
		activities.ErrTypeInvalidState,
		activities.ErrTypeCancelled,
		activities.ErrTypeNotFound,
	}

	controlCtx := workflow.WithActivityOptions(loopCtx, workflow.ActivityOptions{
		StartToCloseTimeout: controlActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        500 * time.Millisecond,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: nonRetryable,
		},
	})

	// One advance may run a stage plus every gate rewrite cycle, so its
	// timeout comes from the pipeline's budget and a stalled worker is
	// detected through heartbeats instead. Stage activities retry only lease
	// conflicts and infrastructure errors; the pipeline never returns a stage
	// failure as an error.
	advanceTimeout := time.Duration(fallbackAdvanceCalls)*stageTimeout + time.Minute
	advanceCtx := func() workflow.Context {
		return workflow.WithActivityOptions(loopCtx, workflow.ActivityOptions{
			StartToCloseTimeout: advanceTimeout,
			HeartbeatTimeout:    3 * activities.HeartbeatInterval,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:        2 * time.Second,
				BackoffCoefficient:     2.0,
				MaximumInterval:        30 * time.Second,
				MaximumAttempts:        5,
				NonRetryableErrorTypes: nonRetryable,
			},
		})
	}

	result := &ArticleGenerationResult{ArticleID: input.ArticleID}
	snapshot := func(state activities.ArticleState) {
		progress.Status = state.Status
		progress.Stage = state.Stage
		progress.Progress = state.Progress
		result.Status = state.Status
		result.Stage = state.Stage
		if state.AdvanceTimeout > 0 {
			advanceTimeout = state.AdvanceTimeout
		}
	}

	// handleFailure reports an infrastructure failure and returns it. The
	// event is published on the root context so it survives cancellation.
	handleFailure := func(originalErr error) (*ArticleGenerationResult, error) {
		logger.Error("article workflow failed", "articleID", input.ArticleID, "error", originalErr)
		progress.LastError = originalErr.Error()

		eventCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: controlActivityTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    500 * time.Millisecond,
				BackoffCoefficient: 2.0,
				MaximumInterval:    10 * time.Second,
				MaximumAttempts:    5,
			},
		})
		_ = workflow.ExecuteActivity(eventCtx, eventAct.PublishEvent, activities.PublishEventInput{
			EventType:  domain.EventTypeArticleFailed,
			ArticleID:  input.ArticleID,
			WorkflowID: workflowID,
			Payload: map[string]interface{}{
				"error": originalErr.Error(),
				"stage": string(progress.Stage),
			},
		}).Get(ctx, nil)

		return nil, originalErr
	}

	// cancelArticle runs after a cancel signal, on a context the signal did
	// not cancel.
	cancelArticle := func() (*ArticleGenerationResult, error) {
		dctx, _ := workflow.NewDisconnectedContext(ctx)
		dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
			StartToCloseTimeout: controlActivityTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:        500 * time.Millisecond,
				BackoffCoefficient:     2.0,
				MaximumInterval:        10 * time.Second,
				MaximumAttempts:        5,
				NonRetryableErrorTypes: nonRetryable,
			},
		})

		var state activities.ArticleState
		err := workflow.ExecuteActivity(dctx, pipelineAct.CancelArticle, activities.CancelArticleInput{
			ArticleID: input.ArticleID,
			Reason:    cancelReason,
		}).Get(dctx, &state)
		if err != nil {
			if isApplicationError(err, activities.ErrTypeInvalidState) {
				// The article finished before the signal was handled.
				logger.Info("article already finished, nothing to cancel", "articleID", input.ArticleID)
				return result, nil
			}
			return handleFailure(fmt.Errorf("cancel article: %w", err))
		}
		snapshot(state)
		return result, nil
	}

	// stopped handles an activity error, distinguishing a requested
	// cancellation and an article cancelled elsewhere from real failures.
	stopped := func(op string, err error) (*ArticleGenerationResult, error) {
		if progress.CancelRequest || temporal.IsCanceledError(err) {
			return cancelArticle()
		}
		if isApplicationError(err, activities.ErrTypeCancelled) {
			logger.Info("article cancelled outside the workflow", "articleID", input.ArticleID)
			progress.Status = domain.ArticleStatusCancelled
			result.Status = domain.ArticleStatusCancelled
			return result, nil
		}
		return handleFailure(fmt.Errorf("%s: %w", op, err))
	}

	var started activities.ArticleState
	if err := workflow.ExecuteActivity(controlCtx, pipelineAct.StartArticle, activities.StartArticleInput{
		ArticleID:  input.ArticleID,
		WorkflowID: workflowID,
	}).Get(loopCtx, &started); err != nil {
		return stopped("start article", err)
	}
	snapshot(started)

	for progress.Status == domain.ArticleStatusGenerating {
		if progress.CancelRequest {
			return cancelArticle()
		}

		var out activities.AdvanceStageOutput
		if err := workflow.ExecuteActivity(advanceCtx(), pipelineAct.AdvanceStage, activities.AdvanceStageInput{
			ArticleID: input.ArticleID,
		}).Get(loopCtx, &out); err != nil {
			return stopped(fmt.Sprintf("advance stage %s", progress.Stage), err)
		}

		snapshot(out.State)
		progress.StagesExecuted++
		progress.GateCycles += out.GateCycles
		progress.Shortfalls += out.Shortfalls
		result.StagesExecuted = progress.StagesExecuted
		result.GateCycles = progress.GateCycles
		result.Shortfalls = progress.Shortfalls

		if out.Failed {
			progress.LastError = out.Error
			result.Error = out.Error
			logger.Warn("stage failed", "articleID", input.ArticleID, "stage", out.Executed, "error", out.Error)
		}
		if out.CancelledInFlight {
			logger.Info("article cancelled while stage ran", "articleID", input.ArticleID, "stage", out.Executed)
		}
	}

	logger.Info("article generation finished",
		"articleID", input.ArticleID,
		"status", result.Status,
		"stagesExecuted", result.StagesExecuted,
	)
	return result, nil
}

func isApplicationError(err error, errType string) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == errType
}
