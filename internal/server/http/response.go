package httpserver

import (
	"time"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/temporal"
)

type articleSummaryResponse struct {
	ID              string     `json:"id"`
	KeywordID       string     `json:"keyword_id"`
	Keyword         string     `json:"keyword,omitempty"`
	Title           string     `json:"title,omitempty"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage"`
	Progress        float64    `json:"progress"`
	FailedStage     string     `json:"failed_stage,omitempty"`
	GenerationCycle int        `json:"generation_cycle"`
	QualityFlagged  bool       `json:"quality_flagged"`
	PublishedURL    string     `json:"published_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

type articleResponse struct {
	articleSummaryResponse
	Artifacts             domain.Artifacts            `json:"artifacts"`
	Scores                domain.Scores               `json:"scores"`
	QualityFlags          domain.QualityFlags         `json:"quality_flags"`
	ErrorLog              []domain.ErrorLogEntry      `json:"error_log"`
	ReviewLog             []domain.ReviewEntry        `json:"review_log"`
	History               []domain.GenerationSnapshot `json:"history"`
	RetryCount            int                         `json:"retry_count"`
	WorkflowID            string                      `json:"workflow_id,omitempty"`
	Visibility            string                      `json:"visibility,omitempty"`
	GenerationStartedAt   *time.Time                  `json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time                  `json:"generation_completed_at,omitempty"`
	// Workflow is the live progress of a running generation workflow.
	Workflow *temporal.WorkflowProgress `json:"workflow,omitempty"`
}

type listArticlesResponse struct {
	Articles   []articleSummaryResponse `json:"articles"`
	TotalCount int64                    `json:"total_count"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

type sourceResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Keywords             []string   `json:"keywords"`
	SourceWebsites       []string   `json:"source_websites"`
	Category             string     `json:"category,omitempty"`
	MaxArticlesPerScrape int        `json:"max_articles_per_scrape"`
	ScrapeFrequency      string     `json:"scrape_frequency"`
	Status               string     `json:"status"`
	LastScrapedAt        *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type listSourcesResponse struct {
	Sources    []sourceResponse `json:"sources"`
	TotalCount int64            `json:"total_count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

type scrapedResponse struct {
	ID                 string     `json:"id"`
	SourceConfigID     string     `json:"source_config_id"`
	SourceWebsite      string     `json:"source_website"`
	SourceURL          string     `json:"source_url"`
	Title              string     `json:"title"`
	Summary            string     `json:"summary,omitempty"`
	MatchedKeywords    []string   `json:"matched_keywords"`
	PublishedDate      *time.Time `json:"published_date,omitempty"`
	Status             string     `json:"status"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	GeneratedArticleID string     `json:"generated_article_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type listScrapedResponse struct {
	Articles   []scrapedResponse `json:"scraped_articles"`
	TotalCount int64             `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

type bulkApproveItemResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status,omitempty"`
	GeneratedArticleID string `json:"generated_article_id,omitempty"`
	Error              string `json:"error,omitempty"`
}

type bulkApproveResponse struct {
	Results   []bulkApproveItemResponse `json:"results"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
}

// generationConfigBody is both the GET response and the PUT request body.
// Stage timeouts are given in seconds.
type generationConfigBody struct {
	ID                  string                              `json:"id,omitempty"`
	Name                string                              `json:"name"`
	DefaultProvider     string                              `json:"default_provider"`
	DefaultModel        string                              `json:"default_model"`
	ImageProvider       string                              `json:"image_provider"`
	ImageModel          string                              `json:"image_model"`
	StageConfigs        map[domain.Stage]domain.StageConfig `json:"stage_configs"`
	SEOGate             domain.QualityGatePolicy            `json:"seo_gate"`
	PlagiarismGate      domain.QualityGatePolicy            `json:"plagiarism_gate"`
	StageTimeoutSeconds map[domain.Stage]float64            `json:"stage_timeout_seconds"`
	UpdatedAt           *time.Time                          `json:"updated_at,omitempty"`
}

func articleToSummary(a *domain.GenerationArticle) articleSummaryResponse {
	resp := articleSummaryResponse{
		ID:              a.ID.String(),
		KeywordID:       a.KeywordID.String(),
		Title:           a.Artifacts.Title,
		Status:          string(a.Status),
		Stage:           string(a.WorkflowStage),
		Progress:        a.Progress(),
		GenerationCycle: a.GenerationCycle,
		QualityFlagged:  a.QualityFlags.Any(),
		PublishedURL:    a.PublishedURL,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		PublishedAt:     a.PublishedAt,
	}
	if a.Keyword != nil {
		resp.Keyword = a.Keyword.Keyword
	}
	if a.FailedStage != nil {
		resp.FailedStage = string(*a.FailedStage)
	}
	return resp
}

func articleToResponse(a *domain.GenerationArticle) articleResponse {
	resp := articleResponse{
		articleSummaryResponse: articleToSummary(a),
		Artifacts:              a.Artifacts,
		Scores:                 a.Scores,
		QualityFlags:           a.QualityFlags,
		ErrorLog:               a.ErrorLog,
		ReviewLog:              a.ReviewLog,
		History:                a.History,
		RetryCount:             a.RetryCount,
		WorkflowID:             a.WorkflowID,
		Visibility:             string(a.Visibility),
		GenerationStartedAt:    a.GenerationStartedAt,
		GenerationCompletedAt:  a.GenerationCompletedAt,
	}
	if resp.ErrorLog == nil {
		resp.ErrorLog = []domain.ErrorLogEntry{}
	}
	if resp.ReviewLog == nil {
		resp.ReviewLog = []domain.ReviewEntry{}
	}
	if resp.History == nil {
		resp.History = []domain.GenerationSnapshot{}
	}
	return resp
}

func sourceToResponse(c *domain.NewsSourceConfig) sourceResponse {
	return sourceResponse{
		ID:                   c.ID.String(),
		Name:                 c.Name,
		Keywords:             nonNil(c.Keywords),
		SourceWebsites:       nonNil(c.SourceWebsites),
		Category:             c.Category,
		MaxArticlesPerScrape: c.MaxArticlesPerScrape,
		ScrapeFrequency:      c.ScrapeFrequency,
		Status:               string(c.Status),
		LastScrapedAt:        c.LastScrapedAt,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func scrapedToResponse(a *domain.ScrapedArticle) scrapedResponse {
	resp := scrapedResponse{
		ID:              a.ID.String(),
		SourceConfigID:  a.SourceConfigID.String(),
		SourceWebsite:   a.SourceWebsite,
		SourceURL:       a.SourceURL,
		Title:           a.Title,
		Summary:         a.Summary,
		MatchedKeywords: nonNil(a.MatchedKeywords),
		PublishedDate:   a.PublishedDate,
		Status:          string(a.Status),
		RejectionReason: a.RejectionReason,
		CreatedAt:       a.CreatedAt,
	}
	if a.GeneratedArticleID != nil {
		resp.GeneratedArticleID = a.GeneratedArticleID.String()
	}
	return resp
}

func configToBody(c *domain.GenerationConfig) generationConfigBody {
	seconds := make(map[domain.Stage]float64, len(c.StageTimeouts))
	for stage, d := range c.StageTimeouts {
		seconds[stage] = d.Seconds()
	}
	updated := c.UpdatedAt
	return generationConfigBody{
		ID:                  c.ID.String(),
		Name:                c.Name,
		DefaultProvider:     c.DefaultProvider,
		DefaultModel:        c.DefaultModel,
		ImageProvider:       c.ImageProvider,
		ImageModel:          c.ImageModel,
		StageConfigs:        c.StageConfigs,
		SEOGate:             c.SEOGate,
		PlagiarismGate:      c.PlagiarismGate,
		StageTimeoutSeconds: seconds,
		UpdatedAt:           &updated,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
