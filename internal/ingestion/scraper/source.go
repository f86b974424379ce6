// Package scraper discovers candidate news articles on source websites.
//
// Each site kind (RSS/Atom feeds, HTML listing pages) implements the Scraper
// interface, and a Registry fans a scrape out across all websites of a
// source configuration concurrently.
//
// Example usage:
//
//	client := httpclient.New(httpclient.Config{PerHost: true, RateLimit: 1})
//	reg := scraper.NewRegistry(scraper.NewExtractor(client, 0))
//	reg.Register(scraper.NewFeedScraper(client, 0))
//	reg.Register(scraper.NewHTMLScraper(client, 0))
//	results := reg.FetchSites(ctx, cfg.SourceWebsites, cfg.MaxArticlesPerScrape)
package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Kind identifies how a source website is read.
type Kind string

const (
	KindFeed Kind = "feed"
	KindHTML Kind = "html"
)

// Candidate is one article discovered on a source website.
type Candidate struct {
	// Site is the source website the candidate was found on.
	Site string

	// URL is the absolute article URL as published.
	URL string

	Title string

	// Summary is the feed description or page excerpt. May be empty.
	Summary string

	// Content is the extracted body text. Only set when extraction ran.
	Content string

	// PublishedAt is nil when the source does not expose a date.
	PublishedAt *time.Time
}

// Text returns the searchable text used for keyword matching.
func (c Candidate) Text() string {
	return c.Title + "\n" + c.Summary + "\n" + c.Content
}

// Scraper reads candidates from one kind of source website.
type Scraper interface {
	// Fetch returns at most limit candidates from site, newest first where
	// the source exposes an order. A non-positive limit means no cap.
	Fetch(ctx context.Context, site string, limit int) ([]Candidate, error)

	// Kind returns the site kind this scraper handles.
	Kind() Kind
}

// DetectKind guesses the kind of a source website from its URL. Feed URLs
// usually carry a feed-ish path segment or extension; everything else is
// treated as an HTML listing page.
func DetectKind(site string) Kind {
	u, err := url.Parse(site)
	if err != nil {
		return KindHTML
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".xml", ".rss", ".atom", ".rdf"} {
		if strings.HasSuffix(path, ext) {
			return KindFeed
		}
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "feed", "feeds", "rss", "atom":
			return KindFeed
		}
	}
	if q := u.Query(); q.Get("format") == "rss" || q.Has("feed") {
		return KindFeed
	}
	return KindHTML
}
