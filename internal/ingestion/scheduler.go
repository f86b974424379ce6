package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// ActiveConfigLister lists the configurations that take part in scheduled scrapes.
type ActiveConfigLister interface {
	ListActive(ctx context.Context) ([]*domain.NewsSourceConfig, error)
}

// ScrapeTrigger runs one configuration's scrape. *Service implements it.
type ScrapeTrigger interface {
	TriggerScrape(ctx context.Context, configID uuid.UUID) (*ScrapeResult, error)
}

type scheduledEntry struct {
	id   cron.EntryID
	spec string
}

// Scheduler keeps one cron entry per active configuration, built from its
// scrape frequency, and reloads the configurations every refresh interval.
type Scheduler struct {
	cron    *cron.Cron
	sources ActiveConfigLister
	trigger ScrapeTrigger
	refresh time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]scheduledEntry
	runCtx  context.Context
}

// NewScheduler creates a Scheduler. A non-positive refresh defaults to five minutes.
func NewScheduler(sources ActiveConfigLister, trigger ScrapeTrigger, refresh time.Duration, logger zerolog.Logger) *Scheduler {
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	logger = logger.With().Str("component", "scrape_scheduler").Logger()
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sources: sources,
		trigger: trigger,
		refresh: refresh,
		logger:  logger,
		entries: make(map[uuid.UUID]scheduledEntry),
		runCtx:  context.Background(),
	}
}

// Run syncs the schedule, starts the cron and blocks until ctx is done.
// Running jobs are awaited before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial schedule sync failed")
	}
	s.cron.Start()
	s.logger.Info().Dur("refresh", s.refresh).Msg("scrape scheduler started")

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info().Msg("scrape scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error().Err(err).Msg("schedule sync failed")
			}
		}
	}
}

// Sync reconciles cron entries with the active configurations: new
// configurations are added, changed frequencies are rescheduled and
// configurations that are no longer active are removed. A configuration
// with an unparsable frequency is skipped and logged.
func (s *Scheduler) Sync(ctx context.Context) error {
	configs, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active source configs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[uuid.UUID]struct{}, len(configs))
	for _, cfg := range configs {
		active[cfg.ID] = struct{}{}
		spec := cfg.CronSpec()
		if cur, ok := s.entries[cfg.ID]; ok {
			if cur.spec == spec {
				continue
			}
			s.cron.Remove(cur.id)
			delete(s.entries, cfg.ID)
		}

		configID := cfg.ID
		id, err := s.cron.AddFunc(spec, func() { s.run(configID) })
		if err != nil {
			s.logger.Warn().Err(err).
				Str("source_config_id", cfg.ID.String()).
				Str("scrape_frequency", cfg.ScrapeFrequency).
				Msg("invalid scrape frequency, config not scheduled")
			continue
		}
		s.entries[cfg.ID] = scheduledEntry{id: id, spec: spec}
	}

	for configID, entry := range s.entries {
		if _, ok := active[configID]; !ok {
			s.cron.Remove(entry.id)
			delete(s.entries, configID)
		}
	}
	return nil
}

// Next returns the next scheduled scrape time of a configuration.
func (s *Scheduler) Next(configID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	entry, ok := s.entries[configID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(entry.id).Next, true
}

// Scheduled returns the number of scheduled configurations.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) run(configID uuid.UUID) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	res, err := s.trigger.TriggerScrape(ctx, configID)
	if err != nil {
		s.logger.Warn().Err(err).Str("source_config_id", configID.String()).Msg("scheduled scrape failed")
		return
	}
	s.logger.Debug().
		Str("source_config_id", configID.String()).
		Int("articles_created", res.ArticlesCreated).
		Msg("scheduled scrape finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
