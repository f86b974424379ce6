package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/repository"
)

// sourceFile is the YAML layout accepted by "sources import".
type sourceFile struct {
	Sources []*domain.NewsSourceConfig `yaml:"sources"`
}

// loadSources decodes and validates a source file, applying the same
// defaults as the HTTP API.
func loadSources(r io.Reader) ([]*domain.NewsSourceConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f sourceFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("no sources defined")
	}

	seen := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		if s == nil {
			return nil, fmt.Errorf("source %d is empty", i)
		}
		s.Name = strings.TrimSpace(s.Name)
		if s.MaxArticlesPerScrape == 0 {
			s.MaxArticlesPerScrape = 10
		}
		if s.ScrapeFrequency == "" {
			s.ScrapeFrequency = string(domain.FrequencyDaily)
		}
		if s.Status == "" {
			s.Status = domain.SourceStatusActive
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", s.Name, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("source %q defined twice", s.Name)
		}
		seen[s.Name] = true
	}
	return f.Sources, nil
}

// sourceUpserter is the part of the source repository used by imports.
type sourceUpserter interface {
	Create(ctx context.Context, cfg *domain.NewsSourceConfig) error
	Update(ctx context.Context, cfg *domain.NewsSourceConfig) error
	List(ctx context.Context, filter repository.SourceFilter) ([]*domain.NewsSourceConfig, int64, error)
}

type importResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// importSources creates new sources and updates existing ones matched by name.
func importSources(ctx context.Context, repo sourceUpserter, sources []*domain.NewsSourceConfig) (importResult, error) {
	existing := make(map[string]*domain.NewsSourceConfig)
	const page = 200
	for offset := 0; ; offset += page {
		batch, total, err := repo.List(ctx, repository.SourceFilter{Limit: page, Offset: offset})
		if err != nil {
			return importResult{}, fmt.Errorf("list sources: %w", err)
		}
		for _, s := range batch {
			existing[s.Name] = s
		}
		if len(batch) == 0 || int64(offset+len(batch)) >= total {
			break
		}
	}

	var res importResult
	for _, s := range sources {
		if cur, ok := existing[s.Name]; ok {
			s.ID = cur.ID
			s.LastScrapedAt = cur.LastScrapedAt
			s.CreatedAt = cur.CreatedAt
			if err := repo.Update(ctx, s); err != nil {
				return res, fmt.Errorf("update source %q: %w", s.Name, err)
			}
			res.Updated++
			continue
		}
		if err := repo.Create(ctx, s); err != nil {
			return res, fmt.Errorf("create source %q: %w", s.Name, err)
		}
		res.Created++
	}
	return res, nil
}

func newSourcesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage news source configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Create or update sources from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sources, err := loadSources(f)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			core, err := c.core(ctx)
			if err != nil {
				return err
			}
			defer core.Close()

			res, err := importSources(ctx, core.Sources, sources)
			if err != nil {
				return err
			}
			c.logger.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("sources imported")
			return c.printJSON(res)
		},
	})
	return cmd
}
