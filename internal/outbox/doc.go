// Package outbox implements the transactional outbox for article pipeline
// events.
//
// Services build events with an Emitter and store them in the outbox_events
// table through a Publisher, either inside the caller's transaction or on
// their own. A Relay polls pending rows and writes them to Kafka, marking
// each row published or counting a failed attempt.
//
// Usage:
//
//	repo := outbox.NewPgRepository(db.Pool())
//	publisher := outbox.NewPublisher(outbox.NewEmitter(outbox.EmitterConfig{}), outbox.NewAdapter(repo))
//
//	err := publisher.PublishNonTx(ctx, outbox.EmitParams{
//	    AggregateID:   article.ID.String(),
//	    AggregateType: domain.AggregateArticle,
//	    EventType:     domain.EventTypeArticleQueued,
//	    Payload:       domain.NewArticleEventPayload(article),
//	})
package outbox
