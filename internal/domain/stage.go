package domain

import (
	"fmt"
	"sort"
)

// Stage identifies one step of the content pipeline.
// These values must match the database enum workflow_stage.
type Stage string

const (
	StageKeywordAnalysis     Stage = "keyword_analysis"
	StageResearch            Stage = "research"
	StageOutline             Stage = "outline"
	StageContentGeneration   Stage = "content_generation"
	StageHumanization        Stage = "humanization"
	StageAIDetection         Stage = "ai_detection"
	StagePlagiarismCheck     Stage = "plagiarism_check"
	StageBiasDetection       Stage = "bias_detection"
	StageFactVerification    Stage = "fact_verification"
	StagePerspectiveAnalysis Stage = "perspective_analysis"
	StageSEOOptimization     Stage = "seo_optimization"
	StageMetaGeneration      Stage = "meta_generation"
	StageImageGeneration     Stage = "image_generation"
	StageQualityCheck        Stage = "quality_check"
	StageCompleted           Stage = "completed"
)

// StageDefinition describes a registered stage.
type StageDefinition struct {
	Stage Stage
	// Ordinal is the explicit 0-based position in the pipeline.
	Ordinal int
	// RequiresModel is false for stages backed by non-LLM vendor services.
	RequiresModel bool
	// UsesImageModel selects the image provider namespace during resolution.
	UsesImageModel bool
	// Terminal marks the completion marker, which is never executed.
	Terminal bool
}

// stageRegistry is populated once at init and never mutated.
var stageRegistry = []StageDefinition{
	{Stage: StageKeywordAnalysis, Ordinal: 0, RequiresModel: true},
	{Stage: StageResearch, Ordinal: 1, RequiresModel: false},
	{Stage: StageOutline, Ordinal: 2, RequiresModel: true},
	{Stage: StageContentGeneration, Ordinal: 3, RequiresModel: true},
	{Stage: StageHumanization, Ordinal: 4, RequiresModel: true},
	{Stage: StageAIDetection, Ordinal: 5, RequiresModel: true},
	{Stage: StagePlagiarismCheck, Ordinal: 6, RequiresModel: false},
	{Stage: StageBiasDetection, Ordinal: 7, RequiresModel: true},
	{Stage: StageFactVerification, Ordinal: 8, RequiresModel: true},
	{Stage: StagePerspectiveAnalysis, Ordinal: 9, RequiresModel: true},
	{Stage: StageSEOOptimization, Ordinal: 10, RequiresModel: true},
	{Stage: StageMetaGeneration, Ordinal: 11, RequiresModel: true},
	{Stage: StageImageGeneration, Ordinal: 12, RequiresModel: false, UsesImageModel: true},
	{Stage: StageQualityCheck, Ordinal: 13, RequiresModel: true},
	{Stage: StageCompleted, Ordinal: 14, Terminal: true},
}

var stageIndex = func() map[Stage]StageDefinition {
	m := make(map[Stage]StageDefinition, len(stageRegistry))
	for i, def := range stageRegistry {
		if def.Ordinal != i {
			panic(fmt.Sprintf("stage %s has ordinal %d at position %d", def.Stage, def.Ordinal, i))
		}
		m[def.Stage] = def
	}
	return m
}()

// Stages returns the ordered stage definitions. The returned slice is a copy.
func Stages() []StageDefinition {
	out := make([]StageDefinition, len(stageRegistry))
	copy(out, stageRegistry)
	return out
}

// StageCount returns the number of registered stages, including completed.
func StageCount() int {
	return len(stageRegistry)
}

// FirstStage returns the stage every generation cycle starts at.
func FirstStage() Stage {
	return stageRegistry[0].Stage
}

// LookupStage returns the definition for a stage.
func LookupStage(s Stage) (StageDefinition, bool) {
	def, ok := stageIndex[s]
	return def, ok
}

// IsValidStage reports whether s is a registered stage.
func IsValidStage(s Stage) bool {
	_, ok := stageIndex[s]
	return ok
}

// ParseStage converts a string to a Stage, rejecting unknown values.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !IsValidStage(st) {
		return "", NewValidationError("stage", fmt.Sprintf("unknown stage %q", s))
	}
	return st, nil
}

// Ordinal returns the stage position, or -1 for unknown stages.
func (s Stage) Ordinal() int {
	def, ok := stageIndex[s]
	if !ok {
		return -1
	}
	return def.Ordinal
}

// RequiresModel reports whether the stage calls a language model.
func (s Stage) RequiresModel() bool {
	return stageIndex[s].RequiresModel
}

// IsTerminal reports whether s is the completion marker.
func (s Stage) IsTerminal() bool {
	return stageIndex[s].Terminal
}

// Next returns the stage following s. The completion marker has no successor.
func (s Stage) Next() (Stage, bool) {
	def, ok := stageIndex[s]
	if !ok || def.Terminal {
		return "", false
	}
	return stageRegistry[def.Ordinal+1].Stage, true
}

// Before reports whether s runs strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Ordinal() < other.Ordinal()
}

// Progress returns ordinal/total in [0,1]; completed reports 1.
func (s Stage) Progress() float64 {
	def, ok := stageIndex[s]
	if !ok {
		return 0
	}
	if def.Terminal {
		return 1
	}
	return float64(def.Ordinal) / float64(len(stageRegistry)-1)
}

// SortByOrder returns the given stages in pipeline order with duplicates removed.
func SortByOrder(stages []Stage) []Stage {
	seen := make(map[Stage]struct{}, len(stages))
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Ordinal() < out[j].Ordinal()
	})
	return out
}

// CompareStages returns -1, 0 or 1 depending on whether a runs before,
// together with, or after b.
func CompareStages(a, b Stage) int {
	oa, ob := a.Ordinal(), b.Ordinal()
	switch {
	case oa < ob:
		return -1
	case oa > ob:
		return 1
	default:
		return 0
	}
}
