package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StageConfig overrides the provider and model used for one stage.
type StageConfig struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// IsComplete reports whether both provider and model are set.
func (c StageConfig) IsComplete() bool {
	return c.Provider != "" && c.Model != ""
}

// GateDimension names a quality dimension guarded by a gate.
type GateDimension string

const (
	GateSEO        GateDimension = "seo"
	GatePlagiarism GateDimension = "plagiarism"
)

// RewriteScope selects how much of the article a rewrite touches.
type RewriteScope string

const (
	RewriteScopeMatchedSections RewriteScope = "matched_sections"
	RewriteScopeWholeArticle    RewriteScope = "whole_article"
)

// RewriteStrategy is passed to rewriting stages as feedback.
type RewriteStrategy struct {
	Scope           RewriteScope `json:"scope,omitempty" validate:"omitempty,oneof=matched_sections whole_article"`
	PreserveSEO     bool         `json:"preserve_seo"`
	PreserveContext bool         `json:"preserve_context"`
}

// QualityGatePolicy configures the bounded rewrite loop for one dimension.
// For SEO, Target is a minimum score. For plagiarism, Target is a threshold
// the score must stay below.
type QualityGatePolicy struct {
	Dimension     GateDimension   `json:"dimension" validate:"required,oneof=seo plagiarism"`
	Enabled       bool            `json:"enabled"`
	Target        float64         `json:"target" validate:"gte=0,lte=100"`
	MaxRetries    int             `json:"max_retries" validate:"gte=0,lte=10"`
	RewriteStages []Stage         `json:"rewrite_stages"`
	Strategy      RewriteStrategy `json:"strategy"`
}

// Passes reports whether score satisfies the policy.
func (p QualityGatePolicy) Passes(score float64) bool {
	if p.Dimension == GatePlagiarism {
		return score < p.Target
	}
	return score >= p.Target
}

// ScoringStage returns the stage that produces this dimension's score.
func (p QualityGatePolicy) ScoringStage() Stage {
	if p.Dimension == GatePlagiarism {
		return StagePlagiarismCheck
	}
	return StageSEOOptimization
}

// ScoreKind returns the score this policy reads.
func (p QualityGatePolicy) ScoreKind() ScoreKind {
	if p.Dimension == GatePlagiarism {
		return ScorePlagiarism
	}
	return ScoreSEO
}

// Validate checks field ranges and that every rewrite stage is a runnable stage
// that does not come after the scoring stage.
func (p QualityGatePolicy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return NewValidationError(string(p.Dimension)+"_gate", err.Error())
	}
	for _, s := range p.RewriteStages {
		def, ok := LookupStage(s)
		if !ok || def.Terminal {
			return NewValidationError(string(p.Dimension)+"_gate.rewrite_stages", fmt.Sprintf("unknown stage %q", s))
		}
		if p.ScoringStage().Before(s) {
			return NewValidationError(string(p.Dimension)+"_gate.rewrite_stages",
				fmt.Sprintf("stage %s runs after %s", s, p.ScoringStage()))
		}
	}
	return nil
}

// DefaultSEOGate returns the default SEO refinement policy.
func DefaultSEOGate() QualityGatePolicy {
	return QualityGatePolicy{
		Dimension:     GateSEO,
		Enabled:       true,
		Target:        80,
		MaxRetries:    2,
		RewriteStages: []Stage{StageContentGeneration, StageSEOOptimization},
		Strategy: RewriteStrategy{
			Scope:           RewriteScopeWholeArticle,
			PreserveContext: true,
		},
	}
}

// DefaultPlagiarismGate returns the default plagiarism refinement policy.
func DefaultPlagiarismGate() QualityGatePolicy {
	return QualityGatePolicy{
		Dimension:     GatePlagiarism,
		Enabled:       true,
		Target:        15,
		MaxRetries:    2,
		RewriteStages: []Stage{StageHumanization, StagePlagiarismCheck},
		Strategy: RewriteStrategy{
			Scope:           RewriteScopeMatchedSections,
			PreserveSEO:     true,
			PreserveContext: true,
		},
	}
}

// GenerationConfig is the active provider and quality configuration.
type GenerationConfig struct {
	ID              uuid.UUID
	Name            string `validate:"required,max=100"`
	DefaultProvider string `validate:"max=100"`
	DefaultModel    string `validate:"max=100"`
	ImageProvider   string `validate:"max=100"`
	ImageModel      string `validate:"max=100"`

	StageConfigs   map[Stage]StageConfig
	SEOGate        QualityGatePolicy
	PlagiarismGate QualityGatePolicy
	// StageTimeouts overrides the service-wide per-stage timeout.
	StageTimeouts map[Stage]time.Duration

	UpdatedAt time.Time
}

// DefaultGenerationConfig returns a configuration with both gates at their defaults.
func DefaultGenerationConfig(provider, model, imageProvider, imageModel string) *GenerationConfig {
	return &GenerationConfig{
		ID:              uuid.New(),
		Name:            "default",
		DefaultProvider: provider,
		DefaultModel:    model,
		ImageProvider:   imageProvider,
		ImageModel:      imageModel,
		StageConfigs:    map[Stage]StageConfig{},
		SEOGate:         DefaultSEOGate(),
		PlagiarismGate:  DefaultPlagiarismGate(),
		StageTimeouts:   map[Stage]time.Duration{},
		UpdatedAt:       time.Now(),
	}
}

// Gate returns the policy for dimension.
func (c *GenerationConfig) Gate(dimension GateDimension) QualityGatePolicy {
	if dimension == GatePlagiarism {
		return c.PlagiarismGate
	}
	return c.SEOGate
}

// StageTimeout returns the override for stage or fallback.
func (c *GenerationConfig) StageTimeout(stage Stage, fallback time.Duration) time.Duration {
	if d, ok := c.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return fallback
}

// Validate checks the configuration. Missing defaults are allowed here and
// surface as ConfigurationError when a stage needs them.
func (c *GenerationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewValidationError("generation_config", err.Error())
	}
	for stage, sc := range c.StageConfigs {
		def, ok := LookupStage(stage)
		if !ok || def.Terminal {
			return NewValidationError("stage_configs", fmt.Sprintf("unknown stage %q", stage))
		}
		if (sc.Provider == "") != (sc.Model == "") {
			return NewValidationError("stage_configs."+string(stage), "provider and model must be set together")
		}
	}
	for stage, d := range c.StageTimeouts {
		if !IsValidStage(stage) {
			return NewValidationError("stage_timeouts", fmt.Sprintf("unknown stage %q", stage))
		}
		if d < 0 {
			return NewValidationError("stage_timeouts."+string(stage), "must not be negative")
		}
	}
	if c.SEOGate.Dimension != GateSEO {
		return NewValidationError("seo_gate.dimension", "must be seo")
	}
	if c.PlagiarismGate.Dimension != GatePlagiarism {
		return NewValidationError("plagiarism_gate.dimension", "must be plagiarism")
	}
	if err := c.SEOGate.Validate(); err != nil {
		return err
	}
	return c.PlagiarismGate.Validate()
}
