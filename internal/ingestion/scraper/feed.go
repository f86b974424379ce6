package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/helixir/article-pipeline-service/internal/httpclient"
)

// DefaultMaxBodyBytes caps fetched documents when no limit is configured.
const DefaultMaxBodyBytes int64 = 5 << 20

// FeedScraper reads RSS, Atom and JSON feeds.
type FeedScraper struct {
	client  *httpclient.Client
	maxBody int64
}

// NewFeedScraper creates a FeedScraper. maxBody <= 0 uses DefaultMaxBodyBytes.
func NewFeedScraper(client *httpclient.Client, maxBody int64) *FeedScraper {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &FeedScraper{client: client, maxBody: maxBody}
}

// Kind implements Scraper.
func (s *FeedScraper) Kind() Kind { return KindFeed }

// Fetch implements Scraper.
func (s *FeedScraper) Fetch(ctx context.Context, site string, limit int) ([]Candidate, error) {
	body, err := fetch(ctx, s.client, site, s.maxBody)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", site, err)
	}

	count := len(feed.Items)
	if limit > 0 && limit < count {
		count = limit
	}

	out := make([]Candidate, 0, count)
	for _, item := range feed.Items {
		if len(out) == count {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		c := Candidate{
			Site:    site,
			URL:     resolve(site, link),
			Title:   title,
			Summary: strings.TrimSpace(stripTags(summary)),
		}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			c.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			c.PublishedAt = &t
		}
		out = append(out, c)
	}
	return out, nil
}

// fetch GETs url and returns its body, capped at maxBody.
func fetch(ctx context.Context, client *httpclient.Client, url string, maxBody int64) ([]byte, error) {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := httpclient.ReadBody(resp, maxBody)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
