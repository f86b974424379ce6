package scraper

import (
	"context"
	"fmt"
	"sync"
)

// SiteResult holds the result of scraping one source website.
type SiteResult struct {
	// Site is the source website.
	Site string

	// Candidates is nil if Error is non-nil.
	Candidates []Candidate

	// Error contains the error if the fetch failed.
	Error error

	// ExtractFailures counts candidates whose body extraction failed.
	// Those candidates are still returned with whatever the listing provided.
	ExtractFailures int
}

// Registry manages scrapers by kind and fans fetches out across websites.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	scrapers  map[Kind]Scraper
	extractor *Extractor
}

// NewRegistry creates an empty registry. A nil extractor disables body extraction.
func NewRegistry(extractor *Extractor) *Registry {
	return &Registry{
		scrapers:  make(map[Kind]Scraper),
		extractor: extractor,
	}
}

// Register adds a scraper, replacing any scraper of the same kind.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Kind()] = s
}

// Get returns the scraper for kind, or nil if not found.
func (r *Registry) Get(kind Kind) Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scrapers[kind]
}

// Fetch scrapes one website with the scraper for its detected kind.
func (r *Registry) Fetch(ctx context.Context, site string, limit int) SiteResult {
	kind := DetectKind(site)
	s := r.Get(kind)
	if s == nil {
		return SiteResult{Site: site, Error: fmt.Errorf("no scraper registered for %s site %s", kind, site)}
	}

	candidates, err := s.Fetch(ctx, site, limit)
	if err != nil {
		return SiteResult{Site: site, Error: err}
	}

	res := SiteResult{Site: site, Candidates: candidates}
	if r.extractor == nil {
		return res
	}
	for i := range res.Candidates {
		if res.Candidates[i].Summary != "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err := r.extractor.Extract(ctx, &res.Candidates[i]); err != nil {
			res.ExtractFailures++
		}
	}
	return res
}

// FetchSites scrapes every site concurrently and returns one result per
// site in input order. Errors are not filtered; the caller decides how a
// failed site affects the scrape.
func (r *Registry) FetchSites(ctx context.Context, sites []string, limit int) []SiteResult {
	results := make([]SiteResult, len(sites))
	var wg sync.WaitGroup
	for i, site := range sites {
		wg.Add(1)
		go func(i int, site string) {
			defer wg.Done()
			results[i] = r.Fetch(ctx, site, limit)
		}(i, site)
	}
	wg.Wait()
	return results
}
