package activities

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/pipeline"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Start(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*domain.GenerationArticle)
	return a, args.Error(1)
}

func (m *mockPipeline) AttachWorkflow(ctx context.Context, id uuid.UUID, workflowID string) error {
	return m.Called(ctx, id, workflowID).Error(0)
}

func (m *mockPipeline) Advance(ctx context.Context, id uuid.UUID) (*pipeline.AdvanceResult, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*pipeline.AdvanceResult)
	return r, args.Error(1)
}

func (m *mockPipeline) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.GenerationArticle, error) {
	args := m.Called(ctx, id, reason)
	a, _ := args.Get(0).(*domain.GenerationArticle)
	return a, args.Error(1)
}

func (m *mockPipeline) AdvanceBudget(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}

type articleReaderFunc func(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)

func (f articleReaderFunc) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
	return f(ctx, id)
}

func readerOf(a *domain.GenerationArticle) ArticleReader {
	return articleReaderFunc(func(context.Context, uuid.UUID) (*domain.GenerationArticle, error) {
		return a, nil
	})
}

func newActivityEnv() *testsuite.TestActivityEnvironment {
	suite := &testsuite.WorkflowTestSuite{}
	return suite.NewTestActivityEnvironment()
}

func applicationErrorType(t *testing.T, err error) (string, bool) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %v", err)
	return appErr.Type(), appErr.NonRetryable()
}

func TestPipelineActivities_StartArticle(t *testing.T) {
	t.Run("starts a queued article and attaches the workflow", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		started := *a
		started.Status = domain.ArticleStatusGenerating

		p := &mockPipeline{}
		p.On("Start", mock.Anything, a.ID).Return(&started, nil).Once()
		p.On("AttachWorkflow", mock.Anything, a.ID, "wf-1").Return(nil).Once()
		p.On("AdvanceBudget", mock.Anything).Return(46*time.Minute, nil).Once()

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(a))
		env.RegisterActivity(act.StartArticle)

		val, err := env.ExecuteActivity(act.StartArticle, StartArticleInput{ArticleID: a.ID, WorkflowID: "wf-1"})
		require.NoError(t, err)

		var state ArticleState
		require.NoError(t, val.Get(&state))
		assert.Equal(t, domain.ArticleStatusGenerating, state.Status)
		assert.Equal(t, domain.FirstStage(), state.Stage)
		assert.Equal(t, 46*time.Minute, state.AdvanceTimeout)
		p.AssertExpectations(t)
	})

	t.Run("resumes a generating article without starting it again", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		a.Status = domain.ArticleStatusGenerating
		a.WorkflowStage = domain.StageOutline

		p := &mockPipeline{}
		p.On("AttachWorkflow", mock.Anything, a.ID, "wf-2").Return(nil).Once()
		p.On("AdvanceBudget", mock.Anything).Return(time.Hour, nil).Once()

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(a))
		env.RegisterActivity(act.StartArticle)

		val, err := env.ExecuteActivity(act.StartArticle, StartArticleInput{ArticleID: a.ID, WorkflowID: "wf-2"})
		require.NoError(t, err)

		var state ArticleState
		require.NoError(t, val.Get(&state))
		assert.Equal(t, domain.StageOutline, state.Stage)
		p.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	})

	t.Run("finished article is not retryable", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		a.Status = domain.ArticleStatusReviewing

		env := newActivityEnv()
		act := NewPipelineActivities(&mockPipeline{}, readerOf(a))
		env.RegisterActivity(act.StartArticle)

		_, err := env.ExecuteActivity(act.StartArticle, StartArticleInput{ArticleID: a.ID})
		require.Error(t, err)
		typ, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, ErrTypeInvalidState, typ)
		assert.True(t, nonRetryable)
	})

	t.Run("missing article is not retryable", func(t *testing.T) {
		reader := articleReaderFunc(func(_ context.Context, id uuid.UUID) (*domain.GenerationArticle, error) {
			return nil, domain.NewNotFoundError("article", id.String())
		})

		env := newActivityEnv()
		act := NewPipelineActivities(&mockPipeline{}, reader)
		env.RegisterActivity(act.StartArticle)

		_, err := env.ExecuteActivity(act.StartArticle, StartArticleInput{ArticleID: uuid.New()})
		require.Error(t, err)
		typ, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, ErrTypeNotFound, typ)
		assert.True(t, nonRetryable)
	})
}

func TestPipelineActivities_AdvanceStage(t *testing.T) {
	t.Run("reports the executed stage", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		a.Status = domain.ArticleStatusGenerating
		a.WorkflowStage = domain.StageResearch

		p := &mockPipeline{}
		p.On("Advance", mock.Anything, a.ID).Return(&pipeline.AdvanceResult{
			Article:    a,
			Executed:   domain.StageKeywordAnalysis,
			GateCycles: 1,
			Shortfalls: []*domain.QualityShortfallWarning{{}},
		}, nil)
		p.On("AdvanceBudget", mock.Anything).Return(20*time.Minute, nil)

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(a))
		env.RegisterActivity(act.AdvanceStage)

		val, err := env.ExecuteActivity(act.AdvanceStage, AdvanceStageInput{ArticleID: a.ID})
		require.NoError(t, err)

		var out AdvanceStageOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, domain.StageKeywordAnalysis, out.Executed)
		assert.Equal(t, domain.StageResearch, out.State.Stage)
		assert.Equal(t, 1, out.GateCycles)
		assert.Equal(t, 1, out.Shortfalls)
		assert.Equal(t, 20*time.Minute, out.State.AdvanceTimeout)
		assert.False(t, out.Failed)
		assert.False(t, out.Done)
	})

	t.Run("stage failure is reported, not returned", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		a.Status = domain.ArticleStatusFailed

		p := &mockPipeline{}
		p.On("Advance", mock.Anything, a.ID).Return(&pipeline.AdvanceResult{
			Article:  a,
			Executed: domain.StageKeywordAnalysis,
			Failure:  errors.New("provider timed out"),
		}, nil)
		p.On("AdvanceBudget", mock.Anything).Return(time.Duration(0), errors.New("config store down"))

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(a))
		env.RegisterActivity(act.AdvanceStage)

		val, err := env.ExecuteActivity(act.AdvanceStage, AdvanceStageInput{ArticleID: a.ID})
		require.NoError(t, err)

		var out AdvanceStageOutput
		require.NoError(t, val.Get(&out))
		assert.True(t, out.Failed)
		assert.True(t, out.Done)
		assert.Contains(t, out.Error, "provider timed out")
	})

	t.Run("heartbeats while the stage runs", func(t *testing.T) {
		a := domain.NewGenerationArticle(uuid.New())
		a.Status = domain.ArticleStatusGenerating

		p := &mockPipeline{}
		p.On("Advance", mock.Anything, a.ID).Run(func(mock.Arguments) {
			time.Sleep(100 * time.Millisecond)
		}).Return(&pipeline.AdvanceResult{Article: a, Executed: domain.StageKeywordAnalysis}, nil)
		p.On("AdvanceBudget", mock.Anything).Return(time.Hour, nil)

		var beats atomic.Int32
		env := newActivityEnv()
		env.SetOnActivityHeartbeatListener(func(*activity.Info, converter.EncodedValues) {
			beats.Add(1)
		})
		act := NewPipelineActivities(p, readerOf(a))
		act.heartbeatInterval = 10 * time.Millisecond
		env.RegisterActivity(act.AdvanceStage)

		_, err := env.ExecuteActivity(act.AdvanceStage, AdvanceStageInput{ArticleID: a.ID})
		require.NoError(t, err)
		assert.Positive(t, beats.Load(), "heartbeat recorded during a long advance")
	})

	t.Run("no heartbeats outside an activity", func(t *testing.T) {
		stop := heartbeat(context.Background(), time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		stop()
	})

	t.Run("lease conflict stays retryable", func(t *testing.T) {
		p := &mockPipeline{}
		p.On("Advance", mock.Anything, mock.Anything).Return(nil, domain.ErrLeaseConflict)

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(nil))
		env.RegisterActivity(act.AdvanceStage)

		_, err := env.ExecuteActivity(act.AdvanceStage, AdvanceStageInput{ArticleID: uuid.New()})
		require.Error(t, err)
		typ, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, ErrTypeLeaseConflict, typ)
		assert.False(t, nonRetryable)
	})

	t.Run("cancelled article stops the loop", func(t *testing.T) {
		p := &mockPipeline{}
		p.On("Advance", mock.Anything, mock.Anything).Return(nil, domain.ErrCancelled)

		env := newActivityEnv()
		act := NewPipelineActivities(p, readerOf(nil))
		env.RegisterActivity(act.AdvanceStage)

		_, err := env.ExecuteActivity(act.AdvanceStage, AdvanceStageInput{ArticleID: uuid.New()})
		require.Error(t, err)
		typ, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, ErrTypeCancelled, typ)
		assert.True(t, nonRetryable)
	})
}

func TestPipelineActivities_CancelArticle(t *testing.T) {
	a := domain.NewGenerationArticle(uuid.New())
	a.Status = domain.ArticleStatusCancelled

	p := &mockPipeline{}
	p.On("Cancel", mock.Anything, a.ID, "operator request").Return(a, nil).Once()

	env := newActivityEnv()
	act := NewPipelineActivities(p, readerOf(a))
	env.RegisterActivity(act.CancelArticle)

	val, err := env.ExecuteActivity(act.CancelArticle, CancelArticleInput{ArticleID: a.ID, Reason: "operator request"})
	require.NoError(t, err)

	var state ArticleState
	require.NoError(t, val.Get(&state))
	assert.Equal(t, domain.ArticleStatusCancelled, state.Status)
	p.AssertExpectations(t)
}

func TestClassify(t *testing.T) {
	plain := errors.New("connection reset")
	err := classify("advance article", plain)
	assert.ErrorIs(t, err, plain)
	var appErr *temporal.ApplicationError
	assert.False(t, errors.As(err, &appErr))
}
