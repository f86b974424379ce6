package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/helixir/article-pipeline-service/internal/httpclient"
)

// Extractor pulls the readable body out of an article page.
type Extractor struct {
	client  *httpclient.Client
	maxBody int64
}

// NewExtractor creates an Extractor. maxBody <= 0 uses DefaultMaxBodyBytes.
func NewExtractor(client *httpclient.Client, maxBody int64) *Extractor {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Extractor{client: client, maxBody: maxBody}
}

// Extract fills the candidate's Content, and Summary when empty, from its page.
func (e *Extractor) Extract(ctx context.Context, c *Candidate) error {
	pageURL, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parse candidate url: %w", err)
	}

	body, err := fetch(ctx, e.client, c.URL, e.maxBody)
	if err != nil {
		return err
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return fmt.Errorf("readability extraction failed: %w", err)
	}

	c.Content = strings.TrimSpace(article.TextContent)
	if c.Summary == "" {
		c.Summary = strings.TrimSpace(article.Excerpt)
	}
	if c.Title == "" {
		c.Title = strings.TrimSpace(article.Title)
	}
	return nil
}
