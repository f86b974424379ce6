// Package httpserver provides the operator control surface: a JSON REST API
// over articles, news sources, scraped candidates and the generation config.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/database"
	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/ingestion"
	"github.com/helixir/article-pipeline-service/internal/intake"
	"github.com/helixir/article-pipeline-service/internal/repository"
	"github.com/helixir/article-pipeline-service/internal/temporal"
)

// ArticleStore reads generation articles.
type ArticleStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
	List(ctx context.Context, filter repository.ArticleFilter) ([]*domain.GenerationArticle, int64, error)
}

// ArticlePipeline is the subset of the pipeline the operator drives directly.
type ArticlePipeline interface {
	RetryStage(ctx context.Context, id uuid.UUID, stage domain.Stage) (*domain.GenerationArticle, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.GenerationArticle, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ReviewWorkflow applies human review decisions.
type ReviewWorkflow interface {
	Approve(ctx context.Context, id uuid.UUID, notes, reviewer string) (*domain.GenerationArticle, error)
	Reject(ctx context.Context, id uuid.UUID, notes string, regenerate bool) (*domain.GenerationArticle, error)
	Publish(ctx context.Context, id uuid.UUID, visibility domain.Visibility) (*domain.GenerationArticle, error)
}

// TopicEnqueuer queues articles from topics.
type TopicEnqueuer interface {
	Enqueue(ctx context.Context, t intake.Topic) (*domain.GenerationArticle, error)
}

// WorkflowController starts and signals generation workflows.
type WorkflowController interface {
	StartArticle(ctx context.Context, id uuid.UUID) error
	CancelWorkflow(ctx context.Context, workflowID, reason string) error
	QueryProgress(ctx context.Context, workflowID string) (*temporal.WorkflowProgress, error)
}

// SourceStore persists news source configurations.
type SourceStore interface {
	Create(ctx context.Context, cfg *domain.NewsSourceConfig) error
	Get(ctx context.Context, id uuid.UUID) (*domain.NewsSourceConfig, error)
	Update(ctx context.Context, cfg *domain.NewsSourceConfig) error
	List(ctx context.Context, filter repository.SourceFilter) ([]*domain.NewsSourceConfig, int64, error)
}

// ScrapedStore reads scraped candidates.
type ScrapedStore interface {
	List(ctx context.Context, filter repository.ScrapedFilter) ([]*domain.ScrapedArticle, int64, error)
}

// Ingestion runs scrapes and candidate review.
type Ingestion interface {
	TriggerScrape(ctx context.Context, configID uuid.UUID) (*ingestion.ScrapeResult, error)
	TriggerScrapeAll(ctx context.Context) (*ingestion.ScrapeAllResult, error)
	Approve(ctx context.Context, id uuid.UUID, autoGenerate bool) (*ingestion.ApproveResult, error)
	BulkApprove(ctx context.Context, ids []uuid.UUID, autoGenerate bool) []ingestion.BulkApproveItem
	Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.ScrapedArticle, error)
}

// ConfigStore reads and replaces the active generation config.
type ConfigStore interface {
	GetActive(ctx context.Context) (*domain.GenerationConfig, error)
	Save(ctx context.Context, cfg *domain.GenerationConfig) error
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Dependencies are the collaborators of the HTTP server. Workflows,
// Readiness and Gatherer are optional.
type Dependencies struct {
	Articles  ArticleStore
	Pipeline  ArticlePipeline
	Review    ReviewWorkflow
	Enqueuer  TopicEnqueuer
	Workflows WorkflowController
	Sources   SourceStore
	Scraped   ScrapedStore
	Ingestion Ingestion
	Configs   ConfigStore
	DB        HealthChecker
	// Readiness checks run after the database check, e.g. Temporal health.
	Readiness map[string]func(ctx context.Context) error
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP REST API server.
type Server struct {
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Route("/articles", func(r chi.Router) {
			r.Post("/", s.createArticle)
			r.Get("/", s.listArticles)
			r.Route("/{articleID}", func(r chi.Router) {
				r.Get("/", s.getArticle)
				r.Delete("/", s.deleteArticle)
				r.Post("/start", s.startArticle)
				r.Post("/retry", s.retryArticle)
				r.Post("/cancel", s.cancelArticle)
				r.Post("/approve", s.approveArticle)
				r.Post("/reject", s.rejectArticle)
				r.Post("/publish", s.publishArticle)
			})
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.createSource)
			r.Post("/scrape-all", s.scrapeAll)
			r.Get("/{sourceID}", s.getSource)
			r.Put("/{sourceID}", s.updateSource)
			r.Post("/{sourceID}/scrape", s.scrapeSource)
		})

		r.Route("/scraped-articles", func(r chi.Router) {
			r.Get("/", s.listScraped)
			r.Post("/bulk-approve", s.bulkApproveScraped)
			r.Post("/{scrapedID}/approve", s.approveScraped)
			r.Post("/{scrapedID}/reject", s.rejectScraped)
		})

		r.Get("/generation-config", s.getGenerationConfig)
		r.Put("/generation-config", s.putGenerationConfig)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	health := s.deps.DB.Health(r.Context())
	if health.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler checks the database and every registered dependency.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ready"}
	if s.deps.DB != nil {
		health := s.deps.DB.Health(r.Context())
		resp["database"] = health.Status
		if !health.Healthy() {
			resp["status"] = "not_ready"
			resp["error"] = health.Error
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	for name, check := range s.deps.Readiness {
		if err := check(r.Context()); err != nil {
			resp[name] = "unhealthy"
			resp["status"] = "not_ready"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp[name] = "healthy"
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode error cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
