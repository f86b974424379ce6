package outbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

func TestNewEmitter_Defaults(t *testing.T) {
	e := NewEmitter(EmitterConfig{})
	assert.Equal(t, defaultServiceName, e.config.ServiceName)
	assert.Equal(t, DefaultMaxAttempts, e.MaxAttempts())

	e = NewEmitter(EmitterConfig{ServiceName: "svc", MaxAttempts: 9})
	assert.Equal(t, "svc", e.config.ServiceName)
	assert.Equal(t, 9, e.MaxAttempts())
}

func TestEmitter_Emit(t *testing.T) {
	e := NewEmitter(EmitterConfig{ServiceName: "article-pipeline-test"})

	t.Run("builds event with metadata", func(t *testing.T) {
		event, err := e.Emit(EmitParams{
			AggregateID:   "a-1",
			AggregateType: domain.AggregateArticle,
			EventType:     domain.EventTypeArticleQueued,
			Payload:       map[string]string{"keyword": "solar"},
			RequestID:     "req-1",
			TraceID:       "trace-1",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, event.EventID)
		assert.Equal(t, 1, event.EventVersion)
		assert.Equal(t, "a-1", event.AggregateID)
		assert.Equal(t, domain.AggregateArticle, event.AggregateType)
		assert.Equal(t, domain.EventTypeArticleQueued, event.EventType)
		assert.Equal(t, "article-pipeline-test", event.Metadata["source"])
		assert.Equal(t, "req-1", event.Metadata["request_id"])
		assert.Equal(t, "trace-1", event.Metadata["trace_id"])
		assert.NotContains(t, event.Metadata, "correlation_id")

		var payload map[string]string
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "solar", payload["keyword"])
	})

	tests := []struct {
		name   string
		params EmitParams
		want   string
	}{
		{"missing aggregate id", EmitParams{AggregateType: "x", EventType: "y"}, "aggregate_id is required"},
		{"missing aggregate type", EmitParams{AggregateID: "x", EventType: "y"}, "aggregate_type is required"},
		{"missing event type", EmitParams{AggregateID: "x", AggregateType: "y"}, "event_type is required"},
		{"unmarshalable payload", EmitParams{AggregateID: "x", AggregateType: "y", EventType: "z", Payload: make(chan int)}, "marshal payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Emit(tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
