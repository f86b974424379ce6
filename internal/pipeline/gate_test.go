package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

// scriptedRerun returns the scores in order and counts calls.
func scriptedRerun(scores ...float64) (RerunFunc, *int) {
	calls := 0
	return func(_ context.Context, _ Feedback) (Measurement, error) {
		s := scores[len(scores)-1]
		if calls < len(scores) {
			s = scores[calls]
		}
		calls++
		return Measurement{Score: s}, nil
	}, &calls
}

func TestQualityGate_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		policy     func() domain.QualityGatePolicy
		initial    float64
		reruns     []float64
		wantPassed bool
		wantCycles int
		wantFinal  float64
	}{
		{
			name:       "passes immediately",
			policy:     domain.DefaultSEOGate,
			initial:    85,
			reruns:     []float64{0},
			wantPassed: true,
			wantCycles: 0,
			wantFinal:  85,
		},
		{
			name:       "passes on second cycle",
			policy:     domain.DefaultSEOGate,
			initial:    60,
			reruns:     []float64{70, 81},
			wantPassed: true,
			wantCycles: 2,
			wantFinal:  81,
		},
		{
			name:       "exhausts retries",
			policy:     domain.DefaultSEOGate,
			initial:    60,
			reruns:     []float64{60},
			wantPassed: false,
			wantCycles: 2,
			wantFinal:  60,
		},
		{
			name: "zero retries never rewrites",
			policy: func() domain.QualityGatePolicy {
				p := domain.DefaultSEOGate()
				p.MaxRetries = 0
				return p
			},
			initial:    10,
			reruns:     []float64{99},
			wantPassed: false,
			wantCycles: 0,
			wantFinal:  10,
		},
		{
			name: "no rewrite stages records shortfall without cycling",
			policy: func() domain.QualityGatePolicy {
				p := domain.DefaultSEOGate()
				p.RewriteStages = nil
				return p
			},
			initial:    10,
			reruns:     []float64{99},
			wantPassed: false,
			wantCycles: 0,
			wantFinal:  10,
		},
		{
			name:       "plagiarism below threshold passes",
			policy:     domain.DefaultPlagiarismGate,
			initial:    14.9,
			reruns:     []float64{0},
			wantPassed: true,
			wantCycles: 0,
			wantFinal:  14.9,
		},
		{
			name:       "plagiarism at threshold triggers rewrite",
			policy:     domain.DefaultPlagiarismGate,
			initial:    15,
			reruns:     []float64{12},
			wantPassed: true,
			wantCycles: 1,
			wantFinal:  12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewQualityGate(zerolog.Nop(), nil)
			rerun, calls := scriptedRerun(tt.reruns...)

			out, err := gate.Evaluate(context.Background(), tt.policy(), Measurement{Score: tt.initial}, rerun)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPassed, out.Passed)
			assert.Equal(t, tt.wantCycles, out.Attempts)
			assert.Equal(t, tt.wantCycles, *calls)
			assert.Equal(t, tt.wantFinal, out.Final.Score)
			assert.LessOrEqual(t, out.Attempts, tt.policy().MaxRetries)
		})
	}
}

func TestQualityGate_DisabledIsSkipped(t *testing.T) {
	gate := NewQualityGate(zerolog.Nop(), nil)
	policy := domain.DefaultSEOGate()
	policy.Enabled = false
	rerun, calls := scriptedRerun(99)

	out, err := gate.Evaluate(context.Background(), policy, Measurement{Score: 1}, rerun)
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.True(t, out.Skipped)
	assert.Zero(t, *calls)
	assert.Nil(t, out.Shortfall())

	flags := domain.QualityFlags{SEOBelowTarget: true, SEOAttempts: 2}
	out.ApplyFlags(&flags)
	assert.True(t, flags.SEOBelowTarget, "skipped gate leaves flags untouched")
}

func TestQualityGate_FeedbackCarriesPriorResult(t *testing.T) {
	gate := NewQualityGate(zerolog.Nop(), nil)
	policy := domain.DefaultPlagiarismGate()

	var got []Feedback
	rerun := func(_ context.Context, fb Feedback) (Measurement, error) {
		got = append(got, fb)
		return Measurement{Score: 30, MatchedSections: []string{"para 4"}}, nil
	}

	initial := Measurement{Score: 40, MatchedSections: []string{"para 2", "para 3"}}
	out, err := gate.Evaluate(context.Background(), policy, initial, rerun)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Attempt)
	assert.Equal(t, 40.0, got[0].PriorScore)
	assert.Equal(t, []string{"para 2", "para 3"}, got[0].MatchedSections)
	assert.Equal(t, policy.Strategy, got[0].Strategy)

	assert.Equal(t, 2, got[1].Attempt)
	assert.Equal(t, 30.0, got[1].PriorScore)
	assert.Equal(t, []string{"para 4"}, got[1].MatchedSections)

	w := out.Shortfall()
	require.NotNil(t, w)
	assert.ErrorIs(t, w, domain.ErrQualityShortfall)
	assert.Equal(t, 2, w.Attempts)

	var flags domain.QualityFlags
	out.ApplyFlags(&flags)
	assert.True(t, flags.PlagiarismAboveThreshold)
	assert.Equal(t, 2, flags.PlagiarismAttempts)
	assert.False(t, flags.SEOBelowTarget)
}

func TestQualityGate_RerunErrorAborts(t *testing.T) {
	gate := NewQualityGate(zerolog.Nop(), nil)
	boom := errors.New("provider down")

	out, err := gate.Evaluate(context.Background(), domain.DefaultSEOGate(), Measurement{Score: 10},
		func(context.Context, Feedback) (Measurement, error) { return Measurement{}, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, out.Attempts)
}

func TestQualityGate_StopsOnCancelledContext(t *testing.T) {
	gate := NewQualityGate(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rerun, calls := scriptedRerun(10)

	_, err := gate.Evaluate(ctx, domain.DefaultSEOGate(), Measurement{Score: 10}, rerun)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}

func TestQualityGate_Metrics(t *testing.T) {
	m := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	gate := NewQualityGate(zerolog.Nop(), m)
	rerun, _ := scriptedRerun(50)

	_, err := gate.Evaluate(context.Background(), domain.DefaultSEOGate(), Measurement{Score: 50}, rerun)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateCycles.WithLabelValues("seo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateShortfalls.WithLabelValues("seo")))
}

func TestRewritePlan(t *testing.T) {
	seo := domain.DefaultSEOGate()
	seo.RewriteStages = []domain.Stage{domain.StageSEOOptimization, domain.StageContentGeneration}
	assert.Equal(t, []domain.Stage{domain.StageContentGeneration, domain.StageSEOOptimization}, rewritePlan(seo))

	plag := domain.DefaultPlagiarismGate()
	plag.RewriteStages = []domain.Stage{domain.StageHumanization}
	assert.Equal(t, []domain.Stage{domain.StageHumanization, domain.StagePlagiarismCheck}, rewritePlan(plag),
		"scoring stage appended so the score is re-measured")
}
