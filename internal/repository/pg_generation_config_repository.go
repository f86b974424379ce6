package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// GenerationConfigRepository stores generation configurations. At most one is active.
type GenerationConfigRepository interface {
	// GetActive returns the active configuration.
	// Returns domain.ErrNotFound if none is active.
	GetActive(ctx context.Context) (*domain.GenerationConfig, error)

	// Save validates cfg, stores it and makes it the active configuration.
	Save(ctx context.Context, cfg *domain.GenerationConfig) error
}

// Compile-time interface verification.
var _ GenerationConfigRepository = (*PgGenerationConfigRepository)(nil)

// PgGenerationConfigRepository is a PostgreSQL implementation of GenerationConfigRepository.
type PgGenerationConfigRepository struct {
	db DBTX
}

// NewPgGenerationConfigRepository creates a new PostgreSQL generation config repository.
func NewPgGenerationConfigRepository(db DBTX) *PgGenerationConfigRepository {
	return &PgGenerationConfigRepository{db: db}
}

// GetActive returns the active configuration.
func (r *PgGenerationConfigRepository) GetActive(ctx context.Context) (*domain.GenerationConfig, error) {
	query := `
		SELECT id, name, default_provider, default_model, image_provider, image_model,
			stage_configs, seo_gate, plagiarism_gate, stage_timeouts, updated_at
		FROM generation_configs
		WHERE active`

	var cfg domain.GenerationConfig
	var stageConfigs, seoGate, plagGate, timeouts []byte
	err := r.db.QueryRow(ctx, query).Scan(
		&cfg.ID, &cfg.Name, &cfg.DefaultProvider, &cfg.DefaultModel, &cfg.ImageProvider, &cfg.ImageModel,
		&stageConfigs, &seoGate, &plagGate, &timeouts, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("generation_config", "active")
		}
		return nil, fmt.Errorf("failed to get active generation config: %w", err)
	}

	if err := json.Unmarshal(stageConfigs, &cfg.StageConfigs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage configs: %w", err)
	}
	if err := json.Unmarshal(seoGate, &cfg.SEOGate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seo gate: %w", err)
	}
	if err := json.Unmarshal(plagGate, &cfg.PlagiarismGate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plagiarism gate: %w", err)
	}
	var seconds map[domain.Stage]float64
	if err := json.Unmarshal(timeouts, &seconds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage timeouts: %w", err)
	}
	cfg.StageTimeouts = make(map[domain.Stage]time.Duration, len(seconds))
	for stage, s := range seconds {
		cfg.StageTimeouts[stage] = time.Duration(s * float64(time.Second))
	}
	if cfg.StageConfigs == nil {
		cfg.StageConfigs = map[domain.Stage]domain.StageConfig{}
	}

	return &cfg, nil
}

// Save stores cfg and activates it, deactivating the previous active row in
// the same transaction. Stage timeouts are stored in seconds.
func (r *PgGenerationConfigRepository) Save(ctx context.Context, cfg *domain.GenerationConfig) error {
	if cfg == nil {
		return domain.NewValidationError("generation_config", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.UpdatedAt = time.Now().UTC()

	stageConfigs, err := json.Marshal(cfg.StageConfigs)
	if err != nil {
		return fmt.Errorf("failed to marshal stage configs: %w", err)
	}
	seoGate, err := json.Marshal(cfg.SEOGate)
	if err != nil {
		return fmt.Errorf("failed to marshal seo gate: %w", err)
	}
	plagGate, err := json.Marshal(cfg.PlagiarismGate)
	if err != nil {
		return fmt.Errorf("failed to marshal plagiarism gate: %w", err)
	}
	seconds := make(map[domain.Stage]float64, len(cfg.StageTimeouts))
	for stage, d := range cfg.StageTimeouts {
		seconds[stage] = d.Seconds()
	}
	timeouts, err := json.Marshal(seconds)
	if err != nil {
		return fmt.Errorf("failed to marshal stage timeouts: %w", err)
	}

	return withTx(ctx, r.db, func(db DBTX) error {
		if _, err := db.Exec(ctx, `UPDATE generation_configs SET active = FALSE WHERE active AND id <> $1`, cfg.ID); err != nil {
			return fmt.Errorf("failed to deactivate generation configs: %w", err)
		}

		query := `
			INSERT INTO generation_configs (
				id, name, active, default_provider, default_model, image_provider, image_model,
				stage_configs, seo_gate, plagiarism_gate, stage_timeouts, updated_at
			) VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				active = TRUE,
				default_provider = EXCLUDED.default_provider,
				default_model = EXCLUDED.default_model,
				image_provider = EXCLUDED.image_provider,
				image_model = EXCLUDED.image_model,
				stage_configs = EXCLUDED.stage_configs,
				seo_gate = EXCLUDED.seo_gate,
				plagiarism_gate = EXCLUDED.plagiarism_gate,
				stage_timeouts = EXCLUDED.stage_timeouts,
				updated_at = EXCLUDED.updated_at`

		if _, err := db.Exec(ctx, query,
			cfg.ID, cfg.Name, cfg.DefaultProvider, cfg.DefaultModel, cfg.ImageProvider, cfg.ImageModel,
			stageConfigs, seoGate, plagGate, timeouts, cfg.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to save generation config: %w", err)
		}
		return nil
	})
}

// EnsureActive saves fallback when no configuration is active and returns
// the active configuration.
func EnsureActive(ctx context.Context, repo GenerationConfigRepository, fallback *domain.GenerationConfig) (*domain.GenerationConfig, error) {
	cfg, err := repo.GetActive(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := repo.Save(ctx, fallback); err != nil {
		return nil, fmt.Errorf("failed to seed generation config: %w", err)
	}
	return fallback, nil
}
