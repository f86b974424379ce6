package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

// Measurement is one score reading for a gated dimension.
type Measurement struct {
	Score           float64
	Suggestions     []string
	MatchedSections []string
}

// RerunFunc re-executes a policy's rewrite stages with feedback and returns
// the fresh measurement.
type RerunFunc func(ctx context.Context, fb Feedback) (Measurement, error)

// GateOutcome is the result of one gate evaluation.
type GateOutcome struct {
	Dimension domain.GateDimension
	Passed    bool
	// Skipped is set when the policy is disabled.
	Skipped  bool
	Attempts int
	Target   float64
	Final    Measurement
}

// Shortfall returns the warning to record, or nil when the gate passed.
func (o GateOutcome) Shortfall() *domain.QualityShortfallWarning {
	if o.Passed {
		return nil
	}
	return &domain.QualityShortfallWarning{
		Dimension: o.Dimension,
		Score:     o.Final.Score,
		Target:    o.Target,
		Attempts:  o.Attempts,
	}
}

// ApplyFlags records the outcome on flags. A skipped gate leaves them alone.
func (o GateOutcome) ApplyFlags(flags *domain.QualityFlags) {
	if o.Skipped {
		return
	}
	switch o.Dimension {
	case domain.GateSEO:
		flags.SEOBelowTarget = !o.Passed
		flags.SEOAttempts = o.Attempts
	case domain.GatePlagiarism:
		flags.PlagiarismAboveThreshold = !o.Passed
		flags.PlagiarismAttempts = o.Attempts
	}
}

// QualityGate runs the bounded rewrite loop for a policy.
type QualityGate struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewQualityGate creates a QualityGate. metrics may be nil.
func NewQualityGate(logger zerolog.Logger, metrics *observability.Metrics) *QualityGate {
	return &QualityGate{logger: logger, metrics: metrics}
}

// Evaluate re-runs the rewrite stages while the score misses the policy and
// fewer than MaxRetries cycles have run. Missing the target after the last
// cycle is not an error: the outcome reports Passed=false and the caller
// flags the article. An error from rerun aborts the loop.
func (g *QualityGate) Evaluate(ctx context.Context, policy domain.QualityGatePolicy, initial Measurement, rerun RerunFunc) (GateOutcome, error) {
	out := GateOutcome{
		Dimension: policy.Dimension,
		Target:    policy.Target,
		Final:     initial,
	}
	if !policy.Enabled {
		out.Passed = true
		out.Skipped = true
		return out, nil
	}

	logger := g.logger.With().Str("dimension", string(policy.Dimension)).Float64("target", policy.Target).Logger()

	current := initial
	for !policy.Passes(current.Score) && out.Attempts < policy.MaxRetries && len(policy.RewriteStages) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		fb := Feedback{
			Dimension:       policy.Dimension,
			Attempt:         out.Attempts + 1,
			PriorScore:      current.Score,
			Target:          policy.Target,
			Suggestions:     current.Suggestions,
			MatchedSections: current.MatchedSections,
			Strategy:        policy.Strategy,
		}

		logger.Info().Int("attempt", fb.Attempt).Float64("score", current.Score).Msg("quality gate missed, rewriting")

		next, err := rerun(ctx, fb)
		out.Attempts++
		if g.metrics != nil {
			g.metrics.RecordGateCycle(string(policy.Dimension))
		}
		if err != nil {
			return out, err
		}
		current = next
	}

	out.Final = current
	out.Passed = policy.Passes(current.Score)
	if !out.Passed {
		if len(policy.RewriteStages) == 0 {
			logger.Warn().Float64("score", current.Score).Msg("quality gate has no rewrite stages, recording shortfall")
		} else {
			logger.Warn().Float64("score", current.Score).Int("attempts", out.Attempts).Msg("quality gate exhausted retries")
		}
		if g.metrics != nil {
			g.metrics.RecordGateShortfall(string(policy.Dimension))
		}
	}
	return out, nil
}

// rewritePlan returns the stages one rewrite cycle executes: the policy's
// rewrite stages in registry order, followed by the scoring stage when it is
// not among them.
func rewritePlan(policy domain.QualityGatePolicy) []domain.Stage {
	stages := domain.SortByOrder(policy.RewriteStages)
	scoring := policy.ScoringStage()
	for _, s := range stages {
		if s == scoring {
			return stages
		}
	}
	return append(stages, scoring)
}
