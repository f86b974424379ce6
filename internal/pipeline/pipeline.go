// Package pipeline drives a generation article through the ordered stage
// registry.
//
// A Pipeline owns the article state machine while the article is queued or
// generating: Start moves a queued article into generation, Advance executes
// exactly one stage (plus any quality gate rewrite cycles it triggers),
// RetryStage resumes a failed article, Cancel stops it cooperatively and
// Delete removes it. Stage calls go through an Invoker resolved per stage
// from the active GenerationConfig.
//
// At most one Advance runs per article at a time: every state-changing call
// that executes stages holds the article's lease and renews it until the call
// returns. Cancel does not take the
// lease, so it succeeds while a stage is in flight; the in-flight Advance
// still writes its artifacts but leaves the article cancelled.
package pipeline

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
	// Get loads an article with its keyword.
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
	// Update applies fn to the locked row and persists the result. An error
	// from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.GenerationArticle) error) error
	// Delete removes the article.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConfigStore provides the active generation configuration.
type ConfigStore interface {
	GetActive(ctx context.Context) (*domain.GenerationConfig, error)
}

// EventPublisher records domain events. Failures are logged, never returned.
type EventPublisher interface {
	PublishNonTx(ctx context.Context, params outbox.EmitParams) error
}

// Config holds execution limits.
type Config struct {
	// StageTimeout applies when the generation config has no override.
	StageTimeout time.Duration
	// LeaseTTL bounds how long a crashed worker can block an article. Held
	// leases are renewed every LeaseTTL/3 while stages run.
	LeaseTTL time.Duration
}

// Dependencies are the collaborators of a Pipeline. Events and Metrics are optional.
type Dependencies struct {
	Articles ArticleStore
	Configs  ConfigStore
	Invokers *InvokerRegistry
	Locker   lease.Locker
	Events   EventPublisher
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// AdvanceResult reports what one Advance call did.
type AdvanceResult struct {
	// Article is the persisted state after the call.
	Article *domain.GenerationArticle
	// Executed is the stage that ran.
	Executed domain.Stage
	// Failure is set when the stage failed and the article was marked failed.
	Failure error
	// Shortfalls lists gates that exhausted their retries during this call.
	Shortfalls []*domain.QualityShortfallWarning
	// GateCycles counts rewrite cycles run during this call.
	GateCycles int
	// CancelledInFlight is set when the article was cancelled while the stage ran.
	CancelledInFlight bool
}

// Done reports whether the article has left the generating status.
func (r *AdvanceResult) Done() bool {
	return r.Article == nil || r.Article.Status != domain.ArticleStatusGenerating
}

const (
	// advanceOverhead covers config loads, lease calls and persistence.
	advanceOverhead = time.Minute
	// maxPersistReserve caps the time kept back from a stage for writing
	// its outcome before the caller's deadline.
	maxPersistReserve = 5 * time.Second
)

var errStageDeadline = errors.New("stage timeout exceeded")

// Pipeline is the article state machine.
type Pipeline struct {
	articles ArticleStore
	configs  ConfigStore
	invokers *InvokerRegistry
	locker   lease.Locker
	events   EventPublisher
	metrics  *observability.Metrics
	logger   zerolog.Logger
	gate     *QualityGate
	config   Config
	now      func() time.Time
}

// New creates a Pipeline.
func New(deps Dependencies, cfg Config) *Pipeline {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 3 * cfg.StageTimeout
	}
	logger := deps.Logger.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		articles: deps.Articles,
		configs:  deps.Configs,
		invokers: deps.Invokers,
		locker:   deps.Locker,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   logger,
		gate:     NewQualityGate(logger, deps.Metrics),
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start moves a queued article into generation at the first stage. It is not
// idempotent: starting an article that is not queued is an InvalidStateError.
func (p *Pipeline) Start(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	var started *domain.GenerationArticle
	err := p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		if a.Status != domain.ArticleStatusQueued {
			return domain.NewInvalidStateError("article", id.String(), "start", string(a.Status))
		}
		now := p.now()
		a.Status = domain.ArticleStatusGenerating
		a.WorkflowStage = domain.FirstStage()
		a.FailedStage = nil
		a.GenerationStartedAt = &now
		a.GenerationCompletedAt = nil
		a.UpdatedAt = now
		started = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordArticleStarted()
	}
	p.logger.Info().Str("article_id", id.String()).Int("cycle", started.GenerationCycle).Msg("article generation started")
	p.publish(ctx, started, domain.EventTypeArticleGenerationStarted, "", "")
	return started, nil
}

// AttachWorkflow records the id of the workflow driving the article.
func (p *Pipeline) AttachWorkflow(ctx context.Context, id uuid.UUID, workflowID string) error {
	return p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		a.WorkflowID = workflowID
		return nil
	})
}

// Advance executes the article's current stage and moves the pointer to the
// next stage. A stage failure is persisted (status failed, failed_stage set,
// error log entry appended) and reported through AdvanceResult.Failure with a
// nil error. A stage that runs past its timeout is a failure even when ctx
// expires with it. Errors are returned for conditions that changed nothing: a
// lease conflict or lost lease, a cancelled or non-generating article, or ctx
// ending mid-stage.
func (p *Pipeline) Advance(ctx context.Context, id uuid.UUID) (*AdvanceResult, error) {
	l, err := p.acquire(ctx, lease.ArticleKey(id.String()))
	if err != nil {
		return nil, err
	}
	defer p.release(ctx, l)
	workCtx, stopRenew := p.renew(ctx, l)
	defer stopRenew()

	article, err := p.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch article.Status {
	case domain.ArticleStatusGenerating:
	case domain.ArticleStatusCancelled:
		return nil, fmt.Errorf("advance article %s: %w", id, domain.ErrCancelled)
	default:
		return nil, domain.NewInvalidStateError("article", id.String(), "advance", string(article.Status))
	}

	stage := article.WorkflowStage
	if !domain.IsValidStage(stage) || stage.IsTerminal() {
		return nil, domain.NewInvalidStateError("article", id.String(), "advance", string(article.Status)+"@"+string(stage))
	}

	logger := observability.WithArticleContext(p.logger, id.String(), string(stage))

	genCfg, err := p.configs.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load generation config: %w", err)
	}

	work := workingCopy(article)
	result := &AdvanceResult{Executed: stage}

	stageRes, runErr := p.executeStage(workCtx, genCfg, work, stage, nil)
	if runErr == nil {
		runErr = p.runGates(workCtx, genCfg, work, stage, stageRes, result)
	}

	if lost := leaseLost(workCtx); lost != nil {
		logger.Warn().Err(lost).Msg("lease lost during stage, discarding results")
		return nil, fmt.Errorf("advance article %s at %s: %w", id, stage, lost)
	}

	// Outcomes are written even if ctx ended after the work finished.
	persistCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if ctx.Err() != nil && !isStageTimeout(runErr) {
			// The caller went away; nothing is persisted so the stage reruns.
			return nil, fmt.Errorf("advance article %s at %s: %w", id, stage, ctx.Err())
		}
		return p.fail(persistCtx, id, stage, runErr, result, logger)
	}

	return p.commit(persistCtx, id, stage, work, result, logger)
}

// AdvanceBudget returns an upper bound on the duration of one Advance call
// under the active generation config.
func (p *Pipeline) AdvanceBudget(ctx context.Context) (time.Duration, error) {
	genCfg, err := p.configs.GetActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load generation config: %w", err)
	}
	return advanceBudget(genCfg, p.config.StageTimeout), nil
}

// advanceBudget is the longest stage timeout times the worst-case number of
// stage calls in one Advance: the stage itself plus every rewrite cycle of
// every enabled gate.
func advanceBudget(genCfg *domain.GenerationConfig, fallback time.Duration) time.Duration {
	var longest time.Duration
	for _, def := range domain.Stages() {
		if d := genCfg.StageTimeout(def.Stage, fallback); d > longest {
			longest = d
		}
	}
	calls := 1
	for _, dim := range []domain.GateDimension{domain.GateSEO, domain.GatePlagiarism} {
		if policy := genCfg.Gate(dim); policy.Enabled {
			calls += policy.MaxRetries * len(rewritePlan(policy))
		}
	}
	return time.Duration(calls)*longest + advanceOverhead
}

// runGates evaluates every enabled policy whose scoring stage is stage.
func (p *Pipeline) runGates(ctx context.Context, genCfg *domain.GenerationConfig, work *domain.GenerationArticle,
	stage domain.Stage, res *StageResult, result *AdvanceResult) error {
	for _, dim := range []domain.GateDimension{domain.GateSEO, domain.GatePlagiarism} {
		policy := genCfg.Gate(dim)
		if policy.ScoringStage() != stage {
			continue
		}

		initial := Measurement{
			Score:           *work.Scores.Get(policy.ScoreKind()),
			Suggestions:     res.Suggestions,
			MatchedSections: res.MatchedSections,
		}

		plan := rewritePlan(policy)
		rerun := func(ctx context.Context, fb Feedback) (Measurement, error) {
			var last *StageResult
			for _, s := range plan {
				r, err := p.executeStage(ctx, genCfg, work, s, &fb)
				if err != nil {
					return Measurement{}, err
				}
				if s == policy.ScoringStage() {
					last = r
				}
			}
			return Measurement{
				Score:           *work.Scores.Get(policy.ScoreKind()),
				Suggestions:     last.Suggestions,
				MatchedSections: last.MatchedSections,
			}, nil
		}

		outcome, err := p.gate.Evaluate(ctx, policy, initial, rerun)
		result.GateCycles += outcome.Attempts
		if err != nil {
			return err
		}
		outcome.ApplyFlags(&work.QualityFlags)
		if w := outcome.Shortfall(); w != nil {
			result.Shortfalls = append(result.Shortfalls, w)
		}
	}
	return nil
}

// executeStage resolves, invokes and applies one stage on work.
func (p *Pipeline) executeStage(ctx context.Context, genCfg *domain.GenerationConfig, work *domain.GenerationArticle,
	stage domain.Stage, fb *Feedback) (*StageResult, error) {
	res, err := Resolve(stage, genCfg)
	if err != nil {
		return nil, err
	}
	inv, ok := p.invokers.Get(res.Provider)
	if !ok {
		return nil, &domain.ConfigurationError{Stage: stage, Reason: fmt.Sprintf("no invoker registered for provider %q", res.Provider)}
	}

	req := StageRequest{
		ArticleID: work.ID,
		Stage:     stage,
		Provider:  res.Provider,
		Model:     res.Model,
		Artifacts: work.Artifacts,
		Scores:    work.Scores,
		Feedback:  fb,
	}
	if work.Keyword != nil {
		req.Keyword = work.Keyword.Keyword
		req.Category = work.Keyword.Category
	}

	timeout := fitDeadline(ctx, genCfg.StageTimeout(stage, p.config.StageTimeout))
	stageCtx, cancel := context.WithTimeoutCause(ctx, timeout, errStageDeadline)
	defer cancel()

	if p.metrics != nil {
		p.metrics.StagesInFlight.Inc()
		defer p.metrics.StagesInFlight.Dec()
	}

	started := time.Now()
	out, err := inv.Invoke(stageCtx, req)
	if err != nil {
		kind := domain.StageFailureProvider
		var stageErr *domain.StageExecutionError
		switch {
		case errors.As(err, &stageErr):
			kind = stageErr.Kind
		case errors.Is(context.Cause(stageCtx), errStageDeadline):
			kind = domain.StageFailureTimeout
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			kind = domain.StageFailureTimeout
		}
		return nil, &domain.StageExecutionError{Stage: stage, Provider: res.Provider, Model: res.Model, Kind: kind, Err: err}
	}

	if err := applyResult(work, stage, out); err != nil {
		return nil, &domain.StageExecutionError{
			Stage: stage, Provider: res.Provider, Model: res.Model,
			Kind: domain.StageFailureInvalidOutput, Err: err,
		}
	}

	if p.metrics != nil {
		p.metrics.RecordStageCompleted(string(stage), res.Provider, time.Since(started).Seconds())
	}
	stageLogger := observability.WithStageContext(p.logger, string(stage), res.Provider, res.Model)
	stageLogger.Debug().
		Str("article_id", work.ID.String()).
		Dur("duration", time.Since(started)).
		Bool("rewrite", fb != nil).
		Msg("stage completed")
	return out, nil
}

// commit persists a successful stage and advances the pointer, unless the
// article was cancelled while the stage ran.
func (p *Pipeline) commit(ctx context.Context, id uuid.UUID, stage domain.Stage, work *domain.GenerationArticle,
	result *AdvanceResult, logger zerolog.Logger) (*AdvanceResult, error) {
	err := p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		a.Artifacts = work.Artifacts
		a.Scores = work.Scores
		a.QualityFlags = work.QualityFlags
		now := p.now()
		a.UpdatedAt = now

		if a.Status == domain.ArticleStatusCancelled {
			result.CancelledInFlight = true
			result.Article = a
			return nil
		}
		if a.Status != domain.ArticleStatusGenerating || a.WorkflowStage != stage {
			return domain.NewInvalidStateError("article", id.String(), "advance", string(a.Status)+"@"+string(a.WorkflowStage))
		}

		for _, w := range result.Shortfalls {
			a.AppendError(stage, domain.ErrorKindQualityShortfall, w.Error(), "")
		}

		next, _ := stage.Next()
		a.WorkflowStage = next
		if next.IsTerminal() {
			a.Status = domain.ArticleStatusReviewing
			a.GenerationCompletedAt = &now
		}
		result.Article = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, w := range result.Shortfalls {
		logger.Warn().Str("dimension", string(w.Dimension)).Float64("score", w.Score).Int("attempts", w.Attempts).
			Msg("quality shortfall flagged for review")
	}

	a := result.Article
	if result.CancelledInFlight {
		logger.Info().Msg("article cancelled during stage, artifacts kept and pointer not advanced")
		return result, nil
	}

	p.publish(ctx, a, domain.EventTypeArticleStageCompleted, "", "")
	if a.Status == domain.ArticleStatusReviewing {
		if p.metrics != nil && a.GenerationStartedAt != nil {
			p.metrics.RecordArticleCompleted(a.GenerationCompletedAt.Sub(*a.GenerationStartedAt).Seconds())
		}
		logger.Info().Msg("article generation completed, awaiting review")
		p.publish(ctx, a, domain.EventTypeArticleReviewing, "", "")
	}
	return result, nil
}

// fail persists a stage failure. A configuration error is recorded with its
// own kind so operators can tell it apart from provider failures.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, stage domain.Stage, cause error,
	result *AdvanceResult, logger zerolog.Logger) (*AdvanceResult, error) {
	kind := domain.ErrorKindStageExecution
	failureKind := ""
	trace := ""
	var cfgErr *domain.ConfigurationError
	var stageErr *domain.StageExecutionError
	switch {
	case errors.As(cause, &cfgErr):
		kind = domain.ErrorKindConfiguration
		failureKind = string(domain.ErrorKindConfiguration)
	case errors.As(cause, &stageErr):
		failureKind = string(stageErr.Kind)
		trace = fmt.Sprintf("stage=%s provider=%s model=%s kind=%s", stageErr.Stage, stageErr.Provider, stageErr.Model, stageErr.Kind)
	default:
		cause = &domain.StageExecutionError{Stage: stage, Kind: domain.StageFailureProvider, Err: cause}
		failureKind = string(domain.StageFailureProvider)
	}

	err := p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		result.Article = a
		if a.Status == domain.ArticleStatusCancelled {
			result.CancelledInFlight = true
			return nil
		}
		if err := a.TransitionTo("fail", domain.ArticleStatusFailed); err != nil {
			return err
		}
		failed := stage
		a.FailedStage = &failed
		a.AppendError(stage, kind, cause.Error(), trace)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.CancelledInFlight {
		return result, nil
	}
	result.Failure = cause

	if p.metrics != nil {
		p.metrics.RecordStageFailed(string(stage), failureKind)
		p.metrics.RecordArticleFailed(string(kind))
	}
	ev := logger.Error()
	if kind == domain.ErrorKindConfiguration {
		ev = ev.Bool("operator_action_required", true)
	}
	ev.Err(cause).Str("error_kind", string(kind)).Msg("stage failed, article marked failed")
	p.publish(ctx, result.Article, domain.EventTypeArticleFailed, cause.Error(), "")
	return result, nil
}

// RetryStage resumes a failed article at stage, which must not be later than
// the failed stage. Retrying an article already generating at stage is a no-op.
func (p *Pipeline) RetryStage(ctx context.Context, id uuid.UUID, stage domain.Stage) (*domain.GenerationArticle, error) {
	if !domain.IsValidStage(stage) || stage.IsTerminal() {
		return nil, domain.NewValidationError("stage", fmt.Sprintf("%q is not a retryable stage", stage))
	}

	var (
		out  *domain.GenerationArticle
		noop bool
	)
	err := p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		out = a
		if a.Status == domain.ArticleStatusGenerating && a.WorkflowStage == stage {
			noop = true
			return nil
		}
		if a.Status != domain.ArticleStatusFailed || a.FailedStage == nil {
			return domain.NewInvalidStateError("article", id.String(), "retry", string(a.Status))
		}
		if a.FailedStage.Before(stage) {
			return domain.NewValidationError("stage", fmt.Sprintf("cannot retry from %s, article failed at %s", stage, *a.FailedStage))
		}
		if err := a.TransitionTo("retry", domain.ArticleStatusGenerating); err != nil {
			return err
		}
		a.WorkflowStage = stage
		a.FailedStage = nil
		a.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		p.logger.Info().Str("article_id", id.String()).Str("stage", string(stage)).Int("retry_count", out.RetryCount).
			Msg("article retry scheduled")
		p.publish(ctx, out, domain.EventTypeArticleGenerationStarted, "", "retry")
	}
	return out, nil
}

// Cancel stops a queued or generating article. It does not wait for an
// in-flight stage and does not roll back artifacts. Cancelling a cancelled
// article is a no-op.
func (p *Pipeline) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.GenerationArticle, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}

	var (
		out  *domain.GenerationArticle
		noop bool
	)
	err := p.articles.Update(ctx, id, func(a *domain.GenerationArticle) error {
		out = a
		if a.Status == domain.ArticleStatusCancelled {
			noop = true
			return nil
		}
		if err := a.TransitionTo("cancel", domain.ArticleStatusCancelled); err != nil {
			return err
		}
		a.AppendError(a.WorkflowStage, domain.ErrorKindCancelled, reason, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		if p.metrics != nil {
			p.metrics.RecordArticleCancelled()
		}
		p.logger.Info().Str("article_id", id.String()).Str("reason", reason).Msg("article cancelled")
		p.publish(ctx, out, domain.EventTypeArticleCancelled, "", reason)
	}
	return out, nil
}

// Delete permanently removes an article that has not been published. It
// takes the article lease so a running Advance cannot write after removal.
func (p *Pipeline) Delete(ctx context.Context, id uuid.UUID) error {
	l, err := p.acquire(ctx, lease.ArticleKey(id.String()))
	if err != nil {
		return err
	}
	defer p.release(ctx, l)
	ctx, stopRenew := p.renew(ctx, l)
	defer stopRenew()

	a, err := p.articles.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == domain.ArticleStatusPublished {
		return domain.NewInvalidStateError("article", id.String(), "delete", string(a.Status))
	}
	if err := p.articles.Delete(ctx, id); err != nil {
		return err
	}

	p.logger.Info().Str("article_id", id.String()).Str("status", string(a.Status)).Msg("article deleted")
	p.publish(ctx, a, domain.EventTypeArticleDeleted, "", "")
	return nil
}

// RunToCompletion advances the article until it leaves the generating status.
func (p *Pipeline) RunToCompletion(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	for {
		res, err := p.Advance(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Done() {
			return res.Article, nil
		}
	}
}

func (p *Pipeline) acquire(ctx context.Context, key string) (lease.Lease, error) {
	l, err := p.locker.Acquire(ctx, key, p.config.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseConflict) && p.metrics != nil {
			p.metrics.RecordLeaseConflict(lease.Scope(key))
		}
		return nil, err
	}
	return l, nil
}

// renew extends l every LeaseTTL/3 until the returned stop func is called.
// If an extension fails the returned context is cancelled with a
// LeaseConflictError as its cause.
func (p *Pipeline) renew(ctx context.Context, l lease.Lease) (context.Context, func()) {
	renewCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(p.config.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(renewCtx, p.config.LeaseTTL); err != nil {
					if renewCtx.Err() != nil {
						return
					}
					p.logger.Warn().Err(err).Str("lease", l.Key()).Msg("failed to extend lease")
					var conflict *domain.LeaseConflictError
					if !errors.As(err, &conflict) {
						conflict = &domain.LeaseConflictError{Key: l.Key()}
					}
					cancel(conflict)
					return
				}
			}
		}
	}()

	return renewCtx, func() {
		close(done)
		<-exited
		cancel(nil)
	}
}

// leaseLost returns the lease conflict that cancelled ctx, if any.
func leaseLost(ctx context.Context) error {
	var conflict *domain.LeaseConflictError
	if errors.As(context.Cause(ctx), &conflict) {
		return conflict
	}
	return nil
}

// fitDeadline shortens timeout so it expires before ctx does, leaving part
// of the remaining time to persist the stage outcome.
func fitDeadline(ctx context.Context, timeout time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}
	remaining := time.Until(deadline)
	reserve := min(remaining/10, maxPersistReserve)
	if avail := remaining - reserve; avail < timeout {
		return avail
	}
	return timeout
}

func isStageTimeout(err error) bool {
	var stageErr *domain.StageExecutionError
	return errors.As(err, &stageErr) && stageErr.Kind == domain.StageFailureTimeout
}

func (p *Pipeline) release(ctx context.Context, l lease.Lease) {
	if err := l.Release(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn().Err(err).Str("lease", l.Key()).Msg("failed to release lease")
	}
}

func (p *Pipeline) publish(ctx context.Context, a *domain.GenerationArticle, eventType, errMsg, reason string) {
	if p.events == nil || a == nil {
		return
	}
	payload := domain.NewArticleEventPayload(a)
	payload.Error = errMsg
	payload.Reason = reason

	wfID, _ := observability.WorkflowFromContext(ctx)
	traceID, _ := observability.TraceSpanFromContext(ctx)
	err := p.events.PublishNonTx(ctx, outbox.EmitParams{
		AggregateID:   a.ID.String(),
		AggregateType: domain.AggregateArticle,
		EventType:     eventType,
		Payload:       payload,
		RequestID:     observability.RequestIDFromContext(ctx),
		CorrelationID: wfID,
		TraceID:       traceID,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("article_id", a.ID.String()).Str("event_type", eventType).Msg("failed to publish event")
	}
}

// workingCopy clones the mutable parts of a that stage execution writes.
func workingCopy(a *domain.GenerationArticle) *domain.GenerationArticle {
	w := *a
	w.Artifacts.FocusKeywords = append([]string(nil), a.Artifacts.FocusKeywords...)
	w.Artifacts.PlagiarismMatches = append([]string(nil), a.Artifacts.PlagiarismMatches...)
	return &w
}
