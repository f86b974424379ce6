package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Keyword is the topic an article is generated for.
// Keywords are deduplicated by their normalized form.
type Keyword struct {
	// ID is the primary key for this keyword.
	ID uuid.UUID

	// Keyword is the original topic text as provided by the operator or source.
	Keyword string

	// NormalizedKeyword is the lowercase, whitespace-collapsed form used for deduplication.
	NormalizedKeyword string

	// Category groups keywords for editorial planning.
	Category string

	// Priority orders queued generation work.
	Priority Priority

	// CreatedAt records when the keyword was first created.
	CreatedAt time.Time
}

// NormalizeKeyword normalizes a keyword string by:
// - Converting to lowercase
// - Trimming leading/trailing whitespace
// - Collapsing multiple whitespace characters into a single space
func NormalizeKeyword(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NewKeyword creates a new Keyword with a generated ID and normalized form.
func NewKeyword(keyword, category string, priority Priority) *Keyword {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Keyword{
		ID:                uuid.New(),
		Keyword:           strings.TrimSpace(keyword),
		NormalizedKeyword: NormalizeKeyword(keyword),
		Category:          category,
		Priority:          priority,
		CreatedAt:         time.Now(),
	}
}

// HashText returns the hex SHA-256 of the normalized form of s.
// Used for title deduplication of scraped candidates.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(NormalizeKeyword(s)))
	return hex.EncodeToString(sum[:])
}
