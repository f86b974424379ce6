package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

const defaultMaxArticlesPerScrape = 10

type sourceRequest struct {
	Name                 string   `json:"name"`
	Keywords             []string `json:"keywords"`
	SourceWebsites       []string `json:"source_websites"`
	Category             string   `json:"category"`
	MaxArticlesPerScrape int      `json:"max_articles_per_scrape"`
	ScrapeFrequency      string   `json:"scrape_frequency"`
	Status               string   `json:"status"`
}

func (req sourceRequest) apply(cfg *domain.NewsSourceConfig) {
	cfg.Name = strings.TrimSpace(req.Name)
	cfg.Keywords = req.Keywords
	cfg.SourceWebsites = req.SourceWebsites
	cfg.Category = req.Category
	cfg.MaxArticlesPerScrape = req.MaxArticlesPerScrape
	if cfg.MaxArticlesPerScrape == 0 {
		cfg.MaxArticlesPerScrape = defaultMaxArticlesPerScrape
	}
	cfg.ScrapeFrequency = req.ScrapeFrequency
	if cfg.ScrapeFrequency == "" {
		cfg.ScrapeFrequency = domain.FrequencyDaily
	}
	cfg.Status = domain.SourceStatus(req.Status)
	if cfg.Status == "" {
		cfg.Status = domain.SourceStatusActive
	}
}

type scrapedApproveRequest struct {
	AutoGenerate bool `json:"auto_generate"`
}

type scrapedRejectRequest struct {
	Reason string `json:"reason"`
}

type bulkApproveRequest struct {
	IDs          []string `json:"ids"`
	AutoGenerate bool     `json:"auto_generate"`
}

const maxBulkApprove = 100

// listSources handles GET /sources.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)
	filter := repository.SourceFilter{Limit: limit, Offset: offset}
	switch v := domain.SourceStatus(r.URL.Query().Get("status")); v {
	case "":
	case domain.SourceStatusActive, domain.SourceStatusInactive:
		filter.Status = v
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
		return
	}

	sources, total, err := s.deps.Sources.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := listSourcesResponse{
		Sources:    make([]sourceResponse, 0, len(sources)),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}
	for _, c := range sources {
		resp.Sources = append(resp.Sources, sourceToResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// createSource handles POST /sources.
func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg := &domain.NewsSourceConfig{}
	req.apply(cfg)
	if err := cfg.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Sources.Create(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sourceToResponse(cfg))
}

// getSource handles GET /sources/{sourceID}.
func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "sourceID"), "source_id")
	if !ok {
		return
	}
	cfg, err := s.deps.Sources.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceToResponse(cfg))
}

// updateSource handles PUT /sources/{sourceID}. The body replaces every
// editable field.
func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "sourceID"), "source_id")
	if !ok {
		return
	}
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := s.deps.Sources.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req.apply(cfg)
	if err := cfg.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Sources.Update(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceToResponse(cfg))
}

// scrapeSource handles POST /sources/{sourceID}/scrape.
func (s *Server) scrapeSource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "sourceID"), "source_id")
	if !ok {
		return
	}
	result, err := s.deps.Ingestion.TriggerScrape(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// scrapeAll handles POST /sources/scrape-all.
func (s *Server) scrapeAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Ingestion.TriggerScrapeAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// listScraped handles GET /scraped-articles with source_config_id and
// comma-separated status filters.
func (s *Server) listScraped(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaginationParams(r)
	filter := repository.ScrapedFilter{Limit: limit, Offset: offset}

	if v := q.Get("source_config_id"); v != "" {
		id, ok := parseUUID(w, v, "source_config_id")
		if !ok {
			return
		}
		filter.SourceConfigID = &id
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := domain.ScrapedStatus(strings.TrimSpace(part))
			switch st {
			case domain.ScrapedStatusPending, domain.ScrapedStatusApproved,
				domain.ScrapedStatusRejected, domain.ScrapedStatusGenerated:
				filter.Statuses = append(filter.Statuses, st)
			default:
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
		}
	}

	items, total, err := s.deps.Scraped.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := listScrapedResponse{
		Articles:   make([]scrapedResponse, 0, len(items)),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}
	for _, a := range items {
		resp.Articles = append(resp.Articles, scrapedToResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// approveScraped handles POST /scraped-articles/{scrapedID}/approve.
func (s *Server) approveScraped(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "scrapedID"), "scraped_id")
	if !ok {
		return
	}
	var req scrapedApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.Ingestion.Approve(r.Context(), id, req.AutoGenerate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.AutoGenerate && isQueued(result.Article) {
		s.startWorkflow(r, result.Article)
	}
	writeJSON(w, http.StatusOK, scrapedToResponse(result.Scraped))
}

// rejectScraped handles POST /scraped-articles/{scrapedID}/reject.
func (s *Server) rejectScraped(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "scrapedID"), "scraped_id")
	if !ok {
		return
	}
	var req scrapedRejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := s.deps.Ingestion.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapedToResponse(a))
}

// bulkApproveScraped handles POST /scraped-articles/bulk-approve. Every id
// is attempted; per-item failures are reported in the response.
func (s *Server) bulkApproveScraped(w http.ResponseWriter, r *http.Request) {
	var req bulkApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(req.IDs) > maxBulkApprove {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d ids per request", maxBulkApprove))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, ok := parseUUID(w, raw, "id")
		if !ok {
			return
		}
		ids = append(ids, id)
	}

	items := s.deps.Ingestion.BulkApprove(r.Context(), ids, req.AutoGenerate)
	resp := bulkApproveResponse{Results: make([]bulkApproveItemResponse, 0, len(items))}
	for _, item := range items {
		out := bulkApproveItemResponse{ID: item.ID.String()}
		if item.Err != nil {
			out.Error = item.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
			if item.Result != nil && item.Result.Scraped != nil {
				out.Status = string(item.Result.Scraped.Status)
			}
			if item.Result != nil && item.Result.Article != nil {
				out.GeneratedArticleID = item.Result.Article.ID.String()
				if req.AutoGenerate && isQueued(item.Result.Article) {
					s.startWorkflow(r, item.Result.Article)
				}
			}
		}
		resp.Results = append(resp.Results, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func isQueued(a *domain.GenerationArticle) bool {
	return a != nil && a.Status == domain.ArticleStatusQueued
}
