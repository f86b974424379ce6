package domain

import (
	"time"

	"github.com/google/uuid"
)

// Artifacts holds the content written by pipeline stages.
// Stored as JSONB in PostgreSQL.
type Artifacts struct {
	Title             string   `json:"title,omitempty"`
	Content           string   `json:"content,omitempty"`
	Outline           string   `json:"outline,omitempty"`
	KeywordAnalysis   string   `json:"keyword_analysis,omitempty"`
	ResearchNotes     string   `json:"research_notes,omitempty"`
	Perspectives      string   `json:"perspectives,omitempty"`
	MetaTitle         string   `json:"meta_title,omitempty"`
	MetaDescription   string   `json:"meta_description,omitempty"`
	FocusKeywords     []string `json:"focus_keywords,omitempty"`
	ImageURL          string   `json:"image_url,omitempty"`
	PlagiarismMatches []string `json:"plagiarism_matches,omitempty"`
}

// IsEmpty reports whether no stage has written anything yet.
func (a Artifacts) IsEmpty() bool {
	return a.Title == "" && a.Content == "" && a.Outline == "" && a.KeywordAnalysis == "" &&
		a.ResearchNotes == "" && a.Perspectives == "" && a.MetaTitle == "" &&
		a.MetaDescription == "" && len(a.FocusKeywords) == 0 && a.ImageURL == "" &&
		len(a.PlagiarismMatches) == 0
}

// ScoreKind names a quality score.
type ScoreKind string

const (
	ScoreBias        ScoreKind = "bias"
	ScoreFactCheck   ScoreKind = "fact_check"
	ScoreSEO         ScoreKind = "seo"
	ScoreAIDetection ScoreKind = "ai_detection"
	ScorePlagiarism  ScoreKind = "plagiarism"
	ScoreReadability ScoreKind = "readability"
	ScoreOverall     ScoreKind = "overall"
)

// Scores holds quality scores in [0,100]. A nil score means its stage has not run.
type Scores struct {
	Bias        *float64 `json:"bias,omitempty"`
	FactCheck   *float64 `json:"fact_check,omitempty"`
	SEO         *float64 `json:"seo,omitempty"`
	AIDetection *float64 `json:"ai_detection,omitempty"`
	Plagiarism  *float64 `json:"plagiarism,omitempty"`
	Readability *float64 `json:"readability,omitempty"`
	Overall     *float64 `json:"overall,omitempty"`
}

// Get returns the score for kind, or nil.
func (s *Scores) Get(kind ScoreKind) *float64 {
	switch kind {
	case ScoreBias:
		return s.Bias
	case ScoreFactCheck:
		return s.FactCheck
	case ScoreSEO:
		return s.SEO
	case ScoreAIDetection:
		return s.AIDetection
	case ScorePlagiarism:
		return s.Plagiarism
	case ScoreReadability:
		return s.Readability
	case ScoreOverall:
		return s.Overall
	default:
		return nil
	}
}

// Set stores a copy of v for kind. Unknown kinds are ignored.
func (s *Scores) Set(kind ScoreKind, v float64) {
	p := &v
	switch kind {
	case ScoreBias:
		s.Bias = p
	case ScoreFactCheck:
		s.FactCheck = p
	case ScoreSEO:
		s.SEO = p
	case ScoreAIDetection:
		s.AIDetection = p
	case ScorePlagiarism:
		s.Plagiarism = p
	case ScoreReadability:
		s.Readability = p
	case ScoreOverall:
		s.Overall = p
	}
}

// IsValidScore reports whether v lies in [0,100].
func IsValidScore(v float64) bool {
	return v >= 0 && v <= 100
}

// QualityFlags records quality gates that exhausted their retries.
// A set flag requires human attention during review.
type QualityFlags struct {
	SEOBelowTarget           bool `json:"seo_below_target"`
	PlagiarismAboveThreshold bool `json:"plagiarism_above_threshold"`
	SEOAttempts              int  `json:"seo_attempts"`
	PlagiarismAttempts       int  `json:"plagiarism_attempts"`
}

// Any reports whether any below-target flag is set.
func (f QualityFlags) Any() bool {
	return f.SEOBelowTarget || f.PlagiarismAboveThreshold
}

// ErrorLogEntry is one append-only error record.
type ErrorLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace,omitempty"`
}

// ReviewAction names a human review decision.
type ReviewAction string

const (
	ReviewActionApprove    ReviewAction = "approve"
	ReviewActionReject     ReviewAction = "reject"
	ReviewActionRegenerate ReviewAction = "regenerate"
	ReviewActionPublish    ReviewAction = "publish"
)

// ReviewEntry is one human review decision.
type ReviewEntry struct {
	Timestamp       time.Time    `json:"timestamp"`
	Action          ReviewAction `json:"action"`
	Reviewer        string       `json:"reviewer,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	QualityOverride bool         `json:"quality_override,omitempty"`
}

// GenerationSnapshot retains the output of a previous generation cycle for audit.
type GenerationSnapshot struct {
	Cycle       int          `json:"cycle"`
	Artifacts   Artifacts    `json:"artifacts"`
	Scores      Scores       `json:"scores"`
	Flags       QualityFlags `json:"flags"`
	Notes       string       `json:"notes,omitempty"`
	ArchivedAt  time.Time    `json:"archived_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// GenerationArticle is the unit of work driven through the pipeline.
type GenerationArticle struct {
	ID        uuid.UUID
	KeywordID uuid.UUID
	// Keyword is populated on reads that join the keywords table.
	Keyword *Keyword

	Status        ArticleStatus
	WorkflowStage Stage
	// FailedStage is set iff Status is failed.
	FailedStage *Stage

	Artifacts    Artifacts
	Scores       Scores
	QualityFlags QualityFlags

	ErrorLog  []ErrorLogEntry
	ReviewLog []ReviewEntry
	History   []GenerationSnapshot

	// GenerationCycle starts at 1 and increments on every regeneration.
	GenerationCycle int
	// RetryCount counts retryStage calls in the current cycle.
	RetryCount int
	WorkflowID string

	PublishedURL string
	Visibility   Visibility

	CreatedAt             time.Time
	UpdatedAt             time.Time
	GenerationStartedAt   *time.Time
	GenerationCompletedAt *time.Time
	PublishedAt           *time.Time
}

// NewGenerationArticle creates a queued article for a keyword.
func NewGenerationArticle(keywordID uuid.UUID) *GenerationArticle {
	now := time.Now()
	return &GenerationArticle{
		ID:              uuid.New(),
		KeywordID:       keywordID,
		Status:          ArticleStatusQueued,
		WorkflowStage:   FirstStage(),
		GenerationCycle: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Progress returns the position of the workflow stage in [0,1].
func (a *GenerationArticle) Progress() float64 {
	return a.WorkflowStage.Progress()
}

// AppendError appends an entry to the error log.
func (a *GenerationArticle) AppendError(stage Stage, kind ErrorKind, message, trace string) {
	a.ErrorLog = append(a.ErrorLog, ErrorLogEntry{
		Timestamp: time.Now(),
		Stage:     stage,
		Kind:      kind,
		Message:   message,
		Trace:     trace,
	})
}

// TransitionTo moves the article to next or returns an InvalidStateError.
func (a *GenerationArticle) TransitionTo(operation string, next ArticleStatus) error {
	if !a.Status.CanTransitionTo(next) {
		return NewInvalidStateError("article", a.ID.String(), operation, string(a.Status))
	}
	a.Status = next
	a.UpdatedAt = time.Now()
	return nil
}

// Archive snapshots the current cycle's output into History and resets it.
func (a *GenerationArticle) Archive(notes string) {
	a.History = append(a.History, GenerationSnapshot{
		Cycle:       a.GenerationCycle,
		Artifacts:   a.Artifacts,
		Scores:      a.Scores,
		Flags:       a.QualityFlags,
		Notes:       notes,
		ArchivedAt:  time.Now(),
		CompletedAt: a.GenerationCompletedAt,
	})
	a.Artifacts = Artifacts{}
	a.Scores = Scores{}
	a.QualityFlags = QualityFlags{}
	a.FailedStage = nil
	a.RetryCount = 0
	a.GenerationStartedAt = nil
	a.GenerationCompletedAt = nil
	a.WorkflowID = ""
	a.WorkflowStage = FirstStage()
	a.GenerationCycle++
}

// LastReview returns the most recent review entry, or nil.
func (a *GenerationArticle) LastReview() *ReviewEntry {
	if len(a.ReviewLog) == 0 {
		return nil
	}
	return &a.ReviewLog[len(a.ReviewLog)-1]
}
