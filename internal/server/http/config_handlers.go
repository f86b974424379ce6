package httpserver

import (
	"net/http"
	"time"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// getGenerationConfig handles GET /generation-config.
func (s *Server) getGenerationConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Configs.GetActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configToBody(cfg))
}

// putGenerationConfig handles PUT /generation-config. The body replaces
// the active configuration; articles already generating pick it up at
// their next stage.
func (s *Server) putGenerationConfig(w http.ResponseWriter, r *http.Request) {
	var body generationConfigBody
	if !decodeBody(w, r, &body) {
		return
	}

	cfg, err := bodyToConfig(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Configs.Save(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("config_id", cfg.ID.String()).
		Str("name", cfg.Name).
		Msg("generation config replaced")
	writeJSON(w, http.StatusOK, configToBody(cfg))
}

func bodyToConfig(body generationConfigBody) (*domain.GenerationConfig, error) {
	cfg := &domain.GenerationConfig{
		Name:            body.Name,
		DefaultProvider: body.DefaultProvider,
		DefaultModel:    body.DefaultModel,
		ImageProvider:   body.ImageProvider,
		ImageModel:      body.ImageModel,
		StageConfigs:    body.StageConfigs,
		SEOGate:         body.SEOGate,
		PlagiarismGate:  body.PlagiarismGate,
		StageTimeouts:   make(map[domain.Stage]time.Duration, len(body.StageTimeoutSeconds)),
	}
	if cfg.StageConfigs == nil {
		cfg.StageConfigs = map[domain.Stage]domain.StageConfig{}
	}
	// Gates omitted from the body keep their defaults.
	if cfg.SEOGate.Dimension == "" {
		cfg.SEOGate = domain.DefaultSEOGate()
	}
	if cfg.PlagiarismGate.Dimension == "" {
		cfg.PlagiarismGate = domain.DefaultPlagiarismGate()
	}
	for stage, seconds := range body.StageTimeoutSeconds {
		if seconds < 0 {
			return nil, domain.NewValidationError("stage_timeout_seconds."+string(stage), "must not be negative")
		}
		cfg.StageTimeouts[stage] = time.Duration(seconds * float64(time.Second))
	}
	return cfg, nil
}
