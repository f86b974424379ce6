package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry("test_article_pipeline", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t)

	assert.NotNil(t, m.ArticlesQueued)
	assert.NotNil(t, m.ArticlesStarted)
	assert.NotNil(t, m.ArticlesFailed)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.GateCycles)
	assert.NotNil(t, m.LeaseConflicts)
	assert.NotNil(t, m.ScrapeRuns)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.ReviewDecisions)
	assert.NotNil(t, m.OutboxPublished)
	assert.NotNil(t, m.IntakeMessages)
}

func TestNewMetrics_DefaultRegistry(t *testing.T) {
	// promauto registers globally, so the namespace must be unique across tests.
	m := NewMetrics("test_article_pipeline_default")
	m.RecordArticleQueued()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArticlesQueued))
}

func TestRecordArticleLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordArticleStarted()
	m.RecordArticleCompleted(120)
	m.RecordArticleFailed("stage_execution")
	m.RecordArticleFailed("stage_execution")
	m.RecordArticleCancelled()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArticlesStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArticlesCompleted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ArticlesFailed.WithLabelValues("stage_execution")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArticlesCancelled))

	count, err := getHistogramSampleCount(m.GenerationDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordStage(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStageCompleted("outline", "openai", 3.5)
	m.RecordStageFailed("outline", "timeout")

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFailures.WithLabelValues("outline", "timeout")))
}

func TestRecordGate(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordGateCycle("seo")
	m.RecordGateCycle("seo")
	m.RecordGateShortfall("seo")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.GateCycles.WithLabelValues("seo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateShortfalls.WithLabelValues("seo")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.GateShortfalls.WithLabelValues("plagiarism")))
}

func TestRecordScrape(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordScrape("success", 10, 7, 3, 2.5)
	m.RecordScrape("error", 0, 0, 0, 0.1)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScrapeRuns.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScrapeRuns.WithLabelValues("error")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.ScrapeCandidates))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.ScrapeCreated))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ScrapeDuplicates))
}

func TestRecordMisc(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLeaseConflict("article")
	m.RecordSourceRequest("news.example.com", 0.2)
	m.RecordSourceRequestFailed("news.example.com", "http_503")
	m.RecordReviewDecision("approve")
	m.RecordPublished("public")
	m.RecordOutboxPublished(5)
	m.RecordOutboxFailed()
	m.RecordIntakeMessage("created")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LeaseConflicts.WithLabelValues("article")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("news.example.com")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("news.example.com", "http_503")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReviewDecisions.WithLabelValues("approve")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArticlesPublished.WithLabelValues("public")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.OutboxPublished))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IntakeMessages.WithLabelValues("created")))
}

// getHistogramSampleCount extracts the sample count from a histogram.
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var metric = &dto.Metric{}
	if err := m.Write(metric); err != nil {
		return 0, err
	}

	return metric.Histogram.GetSampleCount(), nil
}
