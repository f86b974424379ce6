package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

var outputValidator = validator.New()

var errEmptyResult = errors.New("stage returned no result")

// stageScore maps scoring stages to the score they write.
var stageScore = map[domain.Stage]domain.ScoreKind{
	domain.StageAIDetection:      domain.ScoreAIDetection,
	domain.StagePlagiarismCheck:  domain.ScorePlagiarism,
	domain.StageBiasDetection:    domain.ScoreBias,
	domain.StageFactVerification: domain.ScoreFactCheck,
	domain.StageSEOOptimization:  domain.ScoreSEO,
	domain.StageQualityCheck:     domain.ScoreOverall,
}

// applyResult validates res for stage and writes it into a. Nothing is
// written when validation fails.
func applyResult(a *domain.GenerationArticle, stage domain.Stage, res *StageResult) error {
	if res == nil {
		return errEmptyResult
	}
	if err := outputValidator.Struct(res); err != nil {
		return fmt.Errorf("invalid %s output: %w", stage, err)
	}

	if _, ok := stageScore[stage]; ok && res.Score == nil {
		return fmt.Errorf("%s output missing score", stage)
	}

	artifact := strings.TrimSpace(res.Artifact)
	needArtifact := func() error {
		if artifact == "" {
			return fmt.Errorf("%s output missing artifact", stage)
		}
		return nil
	}

	switch stage {
	case domain.StageKeywordAnalysis:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.KeywordAnalysis = artifact
		if len(res.FocusKeywords) > 0 {
			a.Artifacts.FocusKeywords = res.FocusKeywords
		}
	case domain.StageResearch:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.ResearchNotes = artifact
	case domain.StageOutline:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.Outline = artifact
	case domain.StageContentGeneration:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.Content = artifact
		if t := strings.TrimSpace(res.Title); t != "" {
			a.Artifacts.Title = t
		}
	case domain.StageHumanization:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.Content = artifact
	case domain.StagePlagiarismCheck:
		a.Artifacts.PlagiarismMatches = res.MatchedSections
	case domain.StagePerspectiveAnalysis:
		if err := needArtifact(); err != nil {
			return err
		}
		a.Artifacts.Perspectives = artifact
	case domain.StageSEOOptimization:
		if artifact != "" {
			a.Artifacts.Content = artifact
		}
		if len(res.FocusKeywords) > 0 {
			a.Artifacts.FocusKeywords = res.FocusKeywords
		}
	case domain.StageMetaGeneration:
		mt, md := strings.TrimSpace(res.MetaTitle), strings.TrimSpace(res.MetaDescription)
		if mt == "" || md == "" {
			return fmt.Errorf("%s output requires meta title and description", stage)
		}
		a.Artifacts.MetaTitle = mt
		a.Artifacts.MetaDescription = md
	case domain.StageImageGeneration:
		if res.ImageURL == "" {
			return fmt.Errorf("%s output missing image url", stage)
		}
		a.Artifacts.ImageURL = res.ImageURL
	case domain.StageQualityCheck:
		if v, ok := res.Scores[domain.ScoreReadability]; ok {
			a.Scores.Set(domain.ScoreReadability, v)
		}
	case domain.StageAIDetection, domain.StageBiasDetection, domain.StageFactVerification:
	default:
		return fmt.Errorf("stage %s produces no output", stage)
	}

	if kind, ok := stageScore[stage]; ok {
		a.Scores.Set(kind, *res.Score)
	}
	return nil
}
