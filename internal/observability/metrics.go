package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the article pipeline service.
// Metrics are organized by subsystem: articles, stages, quality gates, leases,
// ingestion, review and outbox.
type Metrics struct {
	// ArticlesQueued counts articles created in the queued state.
	ArticlesQueued prometheus.Counter

	// ArticlesStarted counts generation cycles started.
	ArticlesStarted prometheus.Counter

	// ArticlesCompleted counts generation cycles that reached review.
	ArticlesCompleted prometheus.Counter

	// ArticlesFailed counts articles failed, labeled by error kind.
	ArticlesFailed *prometheus.CounterVec

	// ArticlesCancelled counts cancelled articles.
	ArticlesCancelled prometheus.Counter

	// GenerationDuration observes start-to-review duration in seconds.
	GenerationDuration prometheus.Histogram

	// StageDuration observes stage call duration in seconds, labeled by stage and provider.
	StageDuration *prometheus.HistogramVec

	// StageFailures counts failed stage calls, labeled by stage and failure kind.
	StageFailures *prometheus.CounterVec

	// StagesInFlight is the number of stage calls currently executing.
	StagesInFlight prometheus.Gauge

	// GateCycles counts rewrite cycles, labeled by dimension.
	GateCycles *prometheus.CounterVec

	// GateShortfalls counts gates that exhausted their retries, labeled by dimension.
	GateShortfalls *prometheus.CounterVec

	// LeaseConflicts counts lease acquisitions lost to another holder, labeled by scope.
	LeaseConflicts *prometheus.CounterVec

	// ScrapeRuns counts scrape runs, labeled by result.
	ScrapeRuns *prometheus.CounterVec

	// ScrapeDuration observes per-config scrape duration in seconds.
	ScrapeDuration prometheus.Histogram

	// ScrapeCandidates counts candidates found across runs.
	ScrapeCandidates prometheus.Counter

	// ScrapeCreated counts scraped articles persisted.
	ScrapeCreated prometheus.Counter

	// ScrapeDuplicates counts candidates skipped as duplicates.
	ScrapeDuplicates prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to source websites, labeled by host.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by host and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration in seconds, labeled by host.
	SourceRequestDuration *prometheus.HistogramVec

	// ReviewDecisions counts human review actions, labeled by action.
	ReviewDecisions *prometheus.CounterVec

	// ArticlesPublished counts publishes, labeled by visibility.
	ArticlesPublished *prometheus.CounterVec

	// OutboxPublished counts events written to Kafka.
	OutboxPublished prometheus.Counter

	// OutboxFailed counts relay publish failures.
	OutboxFailed prometheus.Counter

	// IntakeMessages counts topic intake messages, labeled by result.
	IntakeMessages *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	durationBuckets := []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	return &Metrics{
		// Articles
		ArticlesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_queued_total",
			Help:      "Total number of generation articles queued",
		}),
		ArticlesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_started_total",
			Help:      "Total number of generation cycles started",
		}),
		ArticlesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_completed_total",
			Help:      "Total number of generation cycles that reached review",
		}),
		ArticlesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_failed_total",
			Help:      "Total number of articles failed by error kind",
		}, []string{"kind"}),
		ArticlesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_cancelled_total",
			Help:      "Total number of cancelled articles",
		}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration from start to review in seconds",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 3600, 7200},
		}),

		// Stages
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage call duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"stage", "provider"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed stage calls",
		}, []string{"stage", "kind"}),
		StagesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stages_in_flight",
			Help:      "Number of stage calls currently executing",
		}),

		// Quality gates
		GateCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_gate_cycles_total",
			Help:      "Total number of quality gate rewrite cycles",
		}, []string{"dimension"}),
		GateShortfalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_gate_shortfalls_total",
			Help:      "Total number of quality gates that exhausted their retries",
		}, []string{"dimension"}),

		LeaseConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_conflicts_total",
			Help:      "Total number of lease acquisitions lost to another holder",
		}, []string{"scope"}),

		// Ingestion
		ScrapeRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_runs_total",
			Help:      "Total number of scrape runs by result",
		}, []string{"result"}),
		ScrapeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Per-config scrape duration in seconds",
			Buckets:   durationBuckets,
		}),
		ScrapeCandidates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_candidates_total",
			Help:      "Total number of candidates found by scrapes",
		}),
		ScrapeCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_created_total",
			Help:      "Total number of scraped articles created",
		}),
		ScrapeDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_duplicates_total",
			Help:      "Total number of duplicate candidates skipped",
		}),
		SourceRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to source websites",
		}, []string{"host"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed HTTP requests to source websites",
		}, []string{"host", "error_type"}),
		SourceRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Source website request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),

		// Review and publish
		ReviewDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_decisions_total",
			Help:      "Total number of review decisions by action",
		}, []string{"action"}),
		ArticlesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_published_total",
			Help:      "Total number of published articles by visibility",
		}, []string{"visibility"}),

		// Outbox and intake
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total number of outbox events relayed to Kafka",
		}),
		OutboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Total number of outbox relay failures",
		}),
		IntakeMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_messages_total",
			Help:      "Total number of topic intake messages by result",
		}, []string{"result"}),
	}
}

// RecordArticleQueued records a newly queued article.
func (m *Metrics) RecordArticleQueued() {
	m.ArticlesQueued.Inc()
}

// RecordArticleStarted records the start of a generation cycle.
func (m *Metrics) RecordArticleStarted() {
	m.ArticlesStarted.Inc()
}

// RecordArticleCompleted records a generation cycle that reached review.
func (m *Metrics) RecordArticleCompleted(durationSeconds float64) {
	m.ArticlesCompleted.Inc()
	m.GenerationDuration.Observe(durationSeconds)
}

// RecordArticleFailed records a failed article.
func (m *Metrics) RecordArticleFailed(kind string) {
	m.ArticlesFailed.WithLabelValues(kind).Inc()
}

// RecordArticleCancelled records a cancelled article.
func (m *Metrics) RecordArticleCancelled() {
	m.ArticlesCancelled.Inc()
}

// RecordStageCompleted records a successful stage call.
func (m *Metrics) RecordStageCompleted(stage, provider string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage, provider).Observe(durationSeconds)
}

// RecordStageFailed records a failed stage call.
func (m *Metrics) RecordStageFailed(stage, kind string) {
	m.StageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordGateCycle records one rewrite cycle.
func (m *Metrics) RecordGateCycle(dimension string) {
	m.GateCycles.WithLabelValues(dimension).Inc()
}

// RecordGateShortfall records a gate that exhausted its retries.
func (m *Metrics) RecordGateShortfall(dimension string) {
	m.GateShortfalls.WithLabelValues(dimension).Inc()
}

// RecordLeaseConflict records a lost lease acquisition.
func (m *Metrics) RecordLeaseConflict(scope string) {
	m.LeaseConflicts.WithLabelValues(scope).Inc()
}

// RecordScrape records the outcome of one config scrape.
func (m *Metrics) RecordScrape(result string, found, created, duplicates int, durationSeconds float64) {
	m.ScrapeRuns.WithLabelValues(result).Inc()
	m.ScrapeDuration.Observe(durationSeconds)
	m.ScrapeCandidates.Add(float64(found))
	m.ScrapeCreated.Add(float64(created))
	m.ScrapeDuplicates.Add(float64(duplicates))
}

// RecordSourceRequest records a request to a source website.
func (m *Metrics) RecordSourceRequest(host string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(host).Inc()
	m.SourceRequestDuration.WithLabelValues(host).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a source website.
func (m *Metrics) RecordSourceRequestFailed(host, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(host, errorType).Inc()
}

// RecordReviewDecision records a human review action.
func (m *Metrics) RecordReviewDecision(action string) {
	m.ReviewDecisions.WithLabelValues(action).Inc()
}

// RecordPublished records a publish.
func (m *Metrics) RecordPublished(visibility string) {
	m.ArticlesPublished.WithLabelValues(visibility).Inc()
}

// RecordOutboxPublished records relayed outbox events.
func (m *Metrics) RecordOutboxPublished(count int) {
	m.OutboxPublished.Add(float64(count))
}

// RecordOutboxFailed records a relay failure.
func (m *Metrics) RecordOutboxFailed() {
	m.OutboxFailed.Inc()
}

// RecordIntakeMessage records a processed intake message.
func (m *Metrics) RecordIntakeMessage(result string) {
	m.IntakeMessages.WithLabelValues(result).Inc()
}
