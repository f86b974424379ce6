package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerationArticle(t *testing.T) {
	kwID := uuid.New()
	a := NewGenerationArticle(kwID)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, kwID, a.KeywordID)
	assert.Equal(t, ArticleStatusQueued, a.Status)
	assert.Equal(t, FirstStage(), a.WorkflowStage)
	assert.Equal(t, 1, a.GenerationCycle)
	assert.Nil(t, a.FailedStage)
	assert.True(t, a.Artifacts.IsEmpty())
}

func TestGenerationArticle_TransitionTo(t *testing.T) {
	a := NewGenerationArticle(uuid.New())

	require.NoError(t, a.TransitionTo("start", ArticleStatusGenerating))
	assert.Equal(t, ArticleStatusGenerating, a.Status)

	err := a.TransitionTo("approve", ArticleStatusApproved)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, ArticleStatusGenerating, a.Status)
}

func TestGenerationArticle_Archive(t *testing.T) {
	a := NewGenerationArticle(uuid.New())
	completed := time.Now()
	a.Status = ArticleStatusReviewing
	a.WorkflowStage = StageCompleted
	a.GenerationCompletedAt = &completed
	a.WorkflowID = "article-x"
	a.Artifacts.Title = "First draft"
	a.Scores.Set(ScoreSEO, 62)
	a.QualityFlags.SEOBelowTarget = true

	a.Archive("tone is off")

	require.Len(t, a.History, 1)
	snap := a.History[0]
	assert.Equal(t, 1, snap.Cycle)
	assert.Equal(t, "First draft", snap.Artifacts.Title)
	require.NotNil(t, snap.Scores.SEO)
	assert.Equal(t, 62.0, *snap.Scores.SEO)
	assert.True(t, snap.Flags.SEOBelowTarget)
	assert.Equal(t, "tone is off", snap.Notes)

	assert.Equal(t, 2, a.GenerationCycle)
	assert.Equal(t, FirstStage(), a.WorkflowStage)
	assert.True(t, a.Artifacts.IsEmpty())
	assert.Nil(t, a.Scores.SEO)
	assert.False(t, a.QualityFlags.Any())
	assert.Nil(t, a.GenerationCompletedAt)
	assert.Empty(t, a.WorkflowID)
}

func TestScores_GetSet(t *testing.T) {
	var s Scores
	for _, kind := range []ScoreKind{ScoreBias, ScoreFactCheck, ScoreSEO, ScoreAIDetection, ScorePlagiarism, ScoreReadability, ScoreOverall} {
		assert.Nil(t, s.Get(kind))
		s.Set(kind, 42)
		require.NotNil(t, s.Get(kind))
		assert.Equal(t, 42.0, *s.Get(kind))
	}
	assert.Nil(t, s.Get("unknown"))

	assert.True(t, IsValidScore(0))
	assert.True(t, IsValidScore(100))
	assert.False(t, IsValidScore(100.5))
	assert.False(t, IsValidScore(-1))
}

func TestGenerationArticle_AppendError(t *testing.T) {
	a := NewGenerationArticle(uuid.New())
	a.AppendError(StageOutline, ErrorKindStageExecution, "timeout", "")
	a.AppendError("", ErrorKindCancelled, "operator request", "")

	require.Len(t, a.ErrorLog, 2)
	assert.Equal(t, StageOutline, a.ErrorLog[0].Stage)
	assert.Equal(t, ErrorKindCancelled, a.ErrorLog[1].Kind)
	assert.False(t, a.ErrorLog[0].Timestamp.IsZero())
}
