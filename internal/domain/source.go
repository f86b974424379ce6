package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Named scrape frequencies. Any other value is treated as a cron expression.
const (
	FrequencyHourly      = "hourly"
	FrequencyEvery6Hours = "every_6_hours"
	FrequencyDaily       = "daily"
	FrequencyWeekly      = "weekly"
)

// NewsSourceConfig describes a set of websites scraped for candidates matching keywords.
type NewsSourceConfig struct {
	ID                   uuid.UUID    `yaml:"-"`
	Name                 string       `yaml:"name" validate:"required,max=200"`
	Keywords             []string     `yaml:"keywords" validate:"dive,required"`
	SourceWebsites       []string     `yaml:"source_websites" validate:"required,min=1,dive,url"`
	Category             string       `yaml:"category" validate:"max=100"`
	MaxArticlesPerScrape int          `yaml:"max_articles_per_scrape" validate:"gte=1,lte=500"`
	ScrapeFrequency      string       `yaml:"scrape_frequency" validate:"required"`
	Status               SourceStatus `yaml:"status" validate:"omitempty,oneof=active inactive"`
	LastScrapedAt        *time.Time   `yaml:"-"`
	CreatedAt            time.Time    `yaml:"-"`
	UpdatedAt            time.Time    `yaml:"-"`
}

// Validate checks the configuration for creation or update.
func (c *NewsSourceConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewValidationError("source_config", err.Error())
	}
	return nil
}

// IsActive reports whether the config takes part in scrape runs.
func (c *NewsSourceConfig) IsActive() bool {
	return c.Status == SourceStatusActive
}

// CronSpec converts the scrape frequency to a cron schedule.
func (c *NewsSourceConfig) CronSpec() string {
	switch strings.TrimSpace(c.ScrapeFrequency) {
	case FrequencyHourly:
		return "@hourly"
	case FrequencyEvery6Hours:
		return "0 */6 * * *"
	case FrequencyDaily:
		return "@daily"
	case FrequencyWeekly:
		return "@weekly"
	default:
		return strings.TrimSpace(c.ScrapeFrequency)
	}
}

// MatchKeywords returns the keywords found in text, case-insensitively.
// An empty keyword set accepts everything with no matches recorded.
func (c *NewsSourceConfig) MatchKeywords(text string) ([]string, bool) {
	if len(c.Keywords) == 0 {
		return nil, true
	}
	haystack := strings.ToLower(text)
	var matched []string
	for _, kw := range c.Keywords {
		needle := NormalizeKeyword(kw)
		if needle != "" && strings.Contains(haystack, needle) {
			matched = append(matched, kw)
		}
	}
	return matched, len(matched) > 0
}

// ScrapedArticle is a candidate article discovered by ingestion.
type ScrapedArticle struct {
	ID              uuid.UUID
	SourceConfigID  uuid.UUID
	SourceWebsite   string
	SourceURL       string
	URLHash         string
	TitleHash       string
	Title           string
	Content         string
	Summary         string
	MatchedKeywords []string
	PublishedDate   *time.Time
	Status          ScrapedStatus
	RejectionReason string
	// GeneratedArticleID is set iff Status is generated.
	GeneratedArticleID *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
