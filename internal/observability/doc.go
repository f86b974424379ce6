// Package observability provides logging and metrics support for the
// article pipeline service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithArticleContext(logger, articleID, string(stage))
//
// # Metrics
//
//	metrics := observability.NewMetrics("article_pipeline")
//	metrics.RecordStageCompleted("outline", "openai", 4.2)
//
// Components accept a nil *Metrics and skip recording.
//
// # Standard Fields
//
//   - article_id: generation article identifier
//   - stage: pipeline stage
//   - provider, model: resolved stage provider
//   - source_config_id: news source configuration
//   - workflow_id: Temporal workflow identifier
package observability
