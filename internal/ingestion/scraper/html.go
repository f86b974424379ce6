package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/article-pipeline-service/internal/httpclient"
)

// listingSelectors locate article links on a news listing page, in priority order.
var listingSelectors = []string{"article a[href]", "h2 a[href]", "h3 a[href]"}

// minTitleLength filters navigation links such as "More" or "Next".
const minTitleLength = 12

// HTMLScraper reads article links from HTML listing pages.
type HTMLScraper struct {
	client  *httpclient.Client
	maxBody int64
}

// NewHTMLScraper creates an HTMLScraper. maxBody <= 0 uses DefaultMaxBodyBytes.
func NewHTMLScraper(client *httpclient.Client, maxBody int64) *HTMLScraper {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HTMLScraper{client: client, maxBody: maxBody}
}

// Kind implements Scraper.
func (s *HTMLScraper) Kind() Kind { return KindHTML }

// Fetch implements Scraper. Only links on the site's own host are returned.
func (s *HTMLScraper) Fetch(ctx context.Context, site string, limit int) ([]Candidate, error) {
	body, err := fetch(ctx, s.client, site, s.maxBody)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", site, err)
	}
	return extractLinks(doc, site, limit), nil
}

func extractLinks(doc *goquery.Document, site string, limit int) []Candidate {
	base, err := url.Parse(site)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []Candidate
	for _, sel := range listingSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if limit > 0 && len(out) >= limit {
				return false
			}
			href, _ := a.Attr("href")
			link := resolve(site, href)
			u, err := url.Parse(link)
			if err != nil || u.Host != base.Host || (u.Scheme != "http" && u.Scheme != "https") {
				return true
			}
			if _, dup := seen[link]; dup {
				return true
			}

			title := strings.Join(strings.Fields(a.Text()), " ")
			if t, ok := a.Attr("title"); ok && len(title) < minTitleLength {
				title = strings.TrimSpace(t)
			}
			if len(title) < minTitleLength {
				return true
			}

			seen[link] = struct{}{}
			c := Candidate{Site: site, URL: link, Title: title}
			if art := a.Closest("article"); art.Length() > 0 {
				c.Summary = strings.TrimSpace(art.Find("p").First().Text())
			}
			out = append(out, c)
			return true
		})
	}
	return out
}

// resolve returns href as an absolute URL relative to base, or href unchanged
// when either fails to parse.
func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// stripTags returns the text content of an HTML fragment.
func stripTags(fragment string) string {
	if !strings.ContainsRune(fragment, '<') {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
