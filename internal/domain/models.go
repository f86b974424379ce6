// Package domain provides domain models and business logic for the Article Pipeline Service.
package domain

// ArticleStatus represents the coarse lifecycle state of a generation article.
// These values must match the database enum article_status.
type ArticleStatus string

const (
	ArticleStatusQueued     ArticleStatus = "queued"
	ArticleStatusGenerating ArticleStatus = "generating"
	ArticleStatusReviewing  ArticleStatus = "reviewing"
	ArticleStatusApproved   ArticleStatus = "approved"
	ArticleStatusPublished  ArticleStatus = "published"
	ArticleStatusFailed     ArticleStatus = "failed"
	ArticleStatusCancelled  ArticleStatus = "cancelled"
	ArticleStatusRejected   ArticleStatus = "rejected"
)

// IsTerminal returns true if no pipeline-internal transition leaves this status
// without explicit operator action.
func (s ArticleStatus) IsTerminal() bool {
	switch s {
	case ArticleStatusFailed, ArticleStatusCancelled, ArticleStatusPublished, ArticleStatusRejected:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known article status.
func (s ArticleStatus) IsValid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// validStatusTransitions defines the allowed status transitions for generation articles.
var validStatusTransitions = map[ArticleStatus][]ArticleStatus{
	ArticleStatusQueued:     {ArticleStatusGenerating, ArticleStatusCancelled},
	ArticleStatusGenerating: {ArticleStatusReviewing, ArticleStatusFailed, ArticleStatusCancelled},
	ArticleStatusFailed:     {ArticleStatusGenerating},
	ArticleStatusReviewing:  {ArticleStatusApproved, ArticleStatusRejected, ArticleStatusQueued},
	ArticleStatusApproved:   {ArticleStatusPublished, ArticleStatusRejected, ArticleStatusQueued},
	ArticleStatusCancelled:  {},
	ArticleStatusPublished:  {},
	ArticleStatusRejected:   {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ArticleStatus) CanTransitionTo(next ArticleStatus) bool {
	for _, allowed := range validStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScrapedStatus represents the review state of a scraped candidate.
// These values must match the database enum scraped_status.
type ScrapedStatus string

const (
	ScrapedStatusPending   ScrapedStatus = "pending"
	ScrapedStatusApproved  ScrapedStatus = "approved"
	ScrapedStatusRejected  ScrapedStatus = "rejected"
	ScrapedStatusGenerated ScrapedStatus = "generated"
)

// SourceStatus represents whether a news source configuration is scraped.
type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "active"
	SourceStatusInactive SourceStatus = "inactive"
)

// Priority ranks keywords for generation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority converts a string into a Priority, defaulting empty values to normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, nil
	default:
		return "", NewValidationError("priority", "must be one of low, normal, high")
	}
}

// Visibility controls who can see a published article.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// ParseVisibility converts a string into a Visibility, defaulting empty values to public.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return v, nil
	default:
		return "", NewValidationError("visibility", "must be one of public, unlisted, private")
	}
}

// ErrorKind classifies an error log entry.
type ErrorKind string

const (
	ErrorKindStageExecution   ErrorKind = "stage_execution"
	ErrorKindConfiguration    ErrorKind = "configuration"
	ErrorKindCancelled        ErrorKind = "cancelled"
	ErrorKindQualityShortfall ErrorKind = "quality_shortfall"
)
