package outbox

import (
	"fmt"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

const (
	// DefaultMaxAttempts is the number of relay attempts before an event is marked failed.
	DefaultMaxAttempts = 5

	defaultServiceName = "article-pipeline-service"
)

// EmitterConfig configures the Emitter.
type EmitterConfig struct {
	// ServiceName is recorded as the event source.
	ServiceName string
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
}

// EmitParams describes one event to emit.
type EmitParams struct {
	// AggregateID identifies the entity the event is about.
	AggregateID string
	// AggregateType is one of the domain.Aggregate* constants.
	AggregateType string
	// EventType is one of the domain.EventType* constants.
	EventType string
	// Payload is JSON-serialized into the event body.
	Payload interface{}
	// RequestID, CorrelationID and TraceID are optional tracing context.
	RequestID     string
	CorrelationID string
	TraceID       string
}

// Emitter builds outbox events enriched with service metadata.
type Emitter struct {
	config EmitterConfig
}

// NewEmitter creates an Emitter, filling config defaults.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	return &Emitter{config: config}
}

// Emit validates params and builds the event ready for insertion.
func (e *Emitter) Emit(params EmitParams) (*domain.OutboxEvent, error) {
	if params.AggregateID == "" {
		return nil, fmt.Errorf("aggregate_id is required")
	}
	if params.AggregateType == "" {
		return nil, fmt.Errorf("aggregate_type is required")
	}
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	event, err := domain.NewOutboxEvent(params.EventType, params.AggregateID, params.AggregateType, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	metadata := map[string]interface{}{
		"source":       e.config.ServiceName,
		"max_attempts": e.config.MaxAttempts,
	}
	if params.RequestID != "" {
		metadata["request_id"] = params.RequestID
	}
	if params.CorrelationID != "" {
		metadata["correlation_id"] = params.CorrelationID
	}
	if params.TraceID != "" {
		metadata["trace_id"] = params.TraceID
	}

	return event.WithMetadata(metadata), nil
}

// MaxAttempts returns the configured delivery attempt ceiling.
func (e *Emitter) MaxAttempts() int {
	return e.config.MaxAttempts
}
