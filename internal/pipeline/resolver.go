package pipeline

import (
	"github.com/helixir/article-pipeline-service/internal/domain"
)

// ResolutionSource records which rule produced a Resolution.
type ResolutionSource string

const (
	SourceStageOverride ResolutionSource = "stage_override"
	SourceDefault       ResolutionSource = "default"
	SourceImageDefault  ResolutionSource = "image_default"
)

// Resolution is the provider and model selected for one stage call.
type Resolution struct {
	Provider string
	Model    string
	Source   ResolutionSource
}

// Resolve picks the provider and model for stage. A complete per-stage
// override wins; otherwise image_generation uses the image default and every
// other stage the configuration default. Only a missing default is an error.
func Resolve(stage domain.Stage, cfg *domain.GenerationConfig) (Resolution, error) {
	def, ok := domain.LookupStage(stage)
	if !ok || def.Terminal {
		return Resolution{}, &domain.ConfigurationError{Stage: stage, Reason: "stage is not executable"}
	}
	if cfg == nil {
		return Resolution{}, &domain.ConfigurationError{Stage: stage, Reason: "no generation configuration"}
	}

	if sc, ok := cfg.StageConfigs[stage]; ok && sc.IsComplete() {
		return Resolution{Provider: sc.Provider, Model: sc.Model, Source: SourceStageOverride}, nil
	}

	res := Resolution{Provider: cfg.DefaultProvider, Model: cfg.DefaultModel, Source: SourceDefault}
	if def.UsesImageModel {
		res = Resolution{Provider: cfg.ImageProvider, Model: cfg.ImageModel, Source: SourceImageDefault}
	}

	switch {
	case res.Provider == "":
		return Resolution{}, &domain.ConfigurationError{Stage: stage, Reason: "no default provider configured"}
	case res.Model == "" && (def.RequiresModel || def.UsesImageModel):
		return Resolution{}, &domain.ConfigurationError{Stage: stage, Reason: "no default model configured"}
	}
	return res, nil
}
