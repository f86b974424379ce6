package outbox

import (
	"context"
	"fmt"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

// Inserter stores an event. A nil q means the repository's own pool.
type Inserter interface {
	InsertEvent(ctx context.Context, q Querier, event *domain.OutboxEvent, maxAttempts int) error
}

// Adapter wraps an Inserter with error context.
type Adapter struct {
	repo Inserter
}

// NewAdapter creates an Adapter.
func NewAdapter(repo Inserter) *Adapter {
	return &Adapter{repo: repo}
}

// Create inserts event using q, which may be a transaction.
func (a *Adapter) Create(ctx context.Context, q Querier, event *domain.OutboxEvent, maxAttempts int) error {
	if err := a.repo.InsertEvent(ctx, q, event, maxAttempts); err != nil {
		return fmt.Errorf("outbox adapter: insert event: %w", err)
	}
	return nil
}

// Publisher combines an Emitter and an Adapter.
type Publisher struct {
	emitter *Emitter
	adapter *Adapter
}

// NewPublisher creates a Publisher.
func NewPublisher(emitter *Emitter, adapter *Adapter) *Publisher {
	return &Publisher{emitter: emitter, adapter: adapter}
}

// Publish emits an event and stores it through q, typically the caller's
// transaction so the event commits atomically with the state change.
func (p *Publisher) Publish(ctx context.Context, q Querier, params EmitParams) error {
	event, err := p.emitter.Emit(params)
	if err != nil {
		return fmt.Errorf("emit event: %w", err)
	}
	if err := p.adapter.Create(ctx, q, event, p.emitter.MaxAttempts()); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// PublishNonTx emits and stores an event outside any transaction.
func (p *Publisher) PublishNonTx(ctx context.Context, params EmitParams) error {
	return p.Publish(ctx, nil, params)
}
