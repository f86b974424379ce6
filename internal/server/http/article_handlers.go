package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/intake"
	"github.com/helixir/article-pipeline-service/internal/repository"
	"github.com/helixir/article-pipeline-service/internal/temporal"
)

type retryRequest struct {
	// Stage defaults to the failed stage.
	Stage string `json:"stage,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type approveRequest struct {
	Notes    string `json:"notes,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}

type rejectRequest struct {
	Notes      string `json:"notes,omitempty"`
	Regenerate bool   `json:"regenerate"`
}

type publishRequest struct {
	Visibility string `json:"visibility,omitempty"`
}

// createArticle handles POST /articles: queue an article for a keyword.
func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var topic intake.Topic
	if !decodeBody(w, r, &topic) {
		return
	}
	topic.Keyword = strings.TrimSpace(topic.Keyword)

	a, err := s.deps.Enqueuer.Enqueue(r.Context(), topic)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, articleToResponse(a))
}

// listArticles handles GET /articles with status, stage, keyword_id and q filters.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaginationParams(r)
	filter := repository.ArticleFilter{
		Search: strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	}

	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := domain.ArticleStatus(strings.TrimSpace(part))
			if !st.IsValid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if v := q.Get("stage"); v != "" {
		stage, err := domain.ParseStage(v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Stage = stage
	}
	if v := q.Get("keyword_id"); v != "" {
		id, ok := parseUUID(w, v, "keyword_id")
		if !ok {
			return
		}
		filter.KeywordID = &id
	}

	articles, total, err := s.deps.Articles.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := listArticlesResponse{
		Articles:   make([]articleSummaryResponse, 0, len(articles)),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}
	for _, a := range articles {
		resp.Articles = append(resp.Articles, articleToSummary(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getArticle handles GET /articles/{articleID}. A generating article also
// reports its workflow's live progress when available.
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}

	a, err := s.deps.Articles.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := articleToResponse(a)
	if a.Status == domain.ArticleStatusGenerating && a.WorkflowID != "" && s.deps.Workflows != nil {
		progress, err := s.deps.Workflows.QueryProgress(r.Context(), a.WorkflowID)
		if err != nil {
			s.logger.Debug().Err(err).Str("article_id", id.String()).Msg("workflow progress unavailable")
		} else {
			resp.Workflow = progress
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// startArticle handles POST /articles/{articleID}/start.
func (s *Server) startArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	if s.deps.Workflows == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return
	}

	a, err := s.deps.Articles.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a.Status != domain.ArticleStatusQueued {
		writeDomainError(w, domain.NewInvalidStateError("article", id.String(), "start", string(a.Status)))
		return
	}

	if err := s.deps.Workflows.StartArticle(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, articleToResponse(a))
}

// retryArticle handles POST /articles/{articleID}/retry: resume a failed
// article and start a new workflow run for it.
func (s *Server) retryArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	var req retryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var stage domain.Stage
	if req.Stage != "" {
		parsed, err := domain.ParseStage(req.Stage)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		stage = parsed
	} else {
		a, err := s.deps.Articles.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if a.FailedStage == nil {
			writeDomainError(w, domain.NewInvalidStateError("article", id.String(), "retry", string(a.Status)))
			return
		}
		stage = *a.FailedStage
	}

	a, err := s.deps.Pipeline.RetryStage(r.Context(), id, stage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.startWorkflow(r, a)
	writeJSON(w, http.StatusAccepted, articleToResponse(a))
}

// cancelArticle handles POST /articles/{articleID}/cancel. The article is
// cancelled directly; its workflow, if any, is signalled to stop.
func (s *Server) cancelArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := s.deps.Pipeline.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.stopWorkflow(r, a, req.Reason)
	writeJSON(w, http.StatusOK, articleToResponse(a))
}

// deleteArticle handles DELETE /articles/{articleID}.
func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}

	a, err := s.deps.Articles.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a.Status == domain.ArticleStatusGenerating {
		s.stopWorkflow(r, a, "article deleted")
	}

	if err := s.deps.Pipeline.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// approveArticle handles POST /articles/{articleID}/approve.
func (s *Server) approveArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := s.deps.Review.Approve(r.Context(), id, req.Notes, req.Reviewer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, articleToResponse(a))
}

// rejectArticle handles POST /articles/{articleID}/reject. With regenerate
// the article is archived, requeued and a new generation cycle starts.
func (s *Server) rejectArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := s.deps.Review.Reject(r.Context(), id, req.Notes, req.Regenerate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if req.Regenerate {
		status = http.StatusAccepted
	}
	writeJSON(w, status, articleToResponse(a))
}

// publishArticle handles POST /articles/{articleID}/publish.
func (s *Server) publishArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "articleID"), "article_id")
	if !ok {
		return
	}
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visibility, err := domain.ParseVisibility(req.Visibility)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	a, err := s.deps.Review.Publish(r.Context(), id, visibility)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, articleToResponse(a))
}

// startWorkflow starts a run for a generating article. Failures are logged:
// the article state is already committed and the operator can start again.
func (s *Server) startWorkflow(r *http.Request, a *domain.GenerationArticle) {
	if s.deps.Workflows == nil {
		return
	}
	err := s.deps.Workflows.StartArticle(r.Context(), a.ID)
	if err != nil && !temporal.IsWorkflowAlreadyStarted(err) {
		s.logger.Error().Err(err).Str("article_id", a.ID.String()).Msg("failed to start generation workflow")
	}
}

// stopWorkflow signals the article's workflow to cancel, ignoring runs that
// already finished.
func (s *Server) stopWorkflow(r *http.Request, a *domain.GenerationArticle, reason string) {
	if s.deps.Workflows == nil || a.WorkflowID == "" {
		return
	}
	err := s.deps.Workflows.CancelWorkflow(r.Context(), a.WorkflowID, reason)
	if err != nil && !temporal.IsWorkflowNotFound(err) {
		s.logger.Warn().Err(err).Str("article_id", a.ID.String()).Str("workflow_id", a.WorkflowID).
			Msg("failed to signal workflow cancellation")
	}
}
