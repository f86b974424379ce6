package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestArticleIDContext(t *testing.T) {
	ctx := WithArticleID(context.Background(), "art-1")
	assert.Equal(t, "art-1", ArticleIDFromContext(ctx))
	assert.Equal(t, "", ArticleIDFromContext(context.Background()))
}

func TestTraceSpanContext(t *testing.T) {
	ctx := WithTraceSpan(context.Background(), "trace-abc", "span-xyz")

	traceID, spanID := TraceSpanFromContext(ctx)
	assert.Equal(t, "trace-abc", traceID)
	assert.Equal(t, "span-xyz", spanID)
}

func TestWorkflowContext(t *testing.T) {
	t.Run("stores and retrieves workflow IDs", func(t *testing.T) {
		ctx := WithWorkflow(context.Background(), "wf-1", "run-1")

		workflowID, runID := WorkflowFromContext(ctx)
		assert.Equal(t, "wf-1", workflowID)
		assert.Equal(t, "run-1", runID)
	})

	t.Run("ignores values of the wrong type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), workflowIDKey, 42)

		workflowID, _ := WorkflowFromContext(ctx)
		assert.Equal(t, "", workflowID)
	})
}
