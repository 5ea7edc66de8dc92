package kafka

import (
	"context"
	"time"

	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
)

// PaperEventPublisher turns resolver lifecycle moments into bus events:
// ingest requests for the worker fleet and persisted notifications for
// downstream consumers.  Publishing is at-least-once; consumers
// deduplicate by event id or by the idempotency of their writes.
type PaperEventPublisher struct {
	producer *Producer
	source   string
	logger   logging.Logger
}

// NewPaperEventPublisher builds the publisher.  source names the
// emitting service in the event envelope (e.g. "apiserver").
func NewPaperEventPublisher(producer *Producer, source string, log logging.Logger) *PaperEventPublisher {
	return &PaperEventPublisher{producer: producer, source: source, logger: log.Named("paper-events")}
}

// TriggerIngest satisfies the Resolver's ingest trigger by handing the
// (paper, kind) pair to the worker fleet through the bus.
func (p *PaperEventPublisher) TriggerIngest(ctx context.Context, paperID string, kind citation.Kind, expectedTotal int) error {
	payload := RelationIngestPayload{
		PaperID:       paperID,
		Kind:          string(kind),
		ExpectedTotal: expectedTotal,
		RequestedAt:   time.Now().UTC(),
	}
	return p.publish(ctx, TopicRelationIngestRequest, "relation.ingest.requested", paperID, payload)
}

// PaperPersisted satisfies the Resolver's persist hook by announcing a
// freshly persisted paper.
func (p *PaperEventPublisher) PaperPersisted(ctx context.Context, paperID string, record map[string]any) error {
	payload := PaperPersistedPayload{
		PaperID:   paperID,
		FetchedAt: time.Now().UTC(),
	}
	if title, ok := record["title"].(string); ok {
		payload.Title = title
	}
	if n, ok := record["citationCount"].(float64); ok {
		payload.CitationCount = int(n)
	}
	if n, ok := record["referenceCount"].(float64); ok {
		payload.ReferenceCount = int(n)
	}
	return p.publish(ctx, TopicPaperPersisted, "paper.persisted", paperID, payload)
}

// IngestCompleted announces a finished (or failed) ingest run.
func (p *PaperEventPublisher) IngestCompleted(ctx context.Context, paperID string, kind citation.Kind, state string, pages, neighbors int) error {
	payload := RelationIngestCompletePayload{
		PaperID:      paperID,
		Kind:         string(kind),
		State:        state,
		PagesFetched: pages,
		Neighbors:    neighbors,
		CompletedAt:  time.Now().UTC(),
	}
	return p.publish(ctx, TopicRelationIngestComplete, "relation.ingest.completed", paperID, payload)
}

func (p *PaperEventPublisher) publish(ctx context.Context, topic, eventType, key string, payload interface{}) error {
	env, err := NewEventEnvelope(eventType, p.source, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(topic)
	if err != nil {
		return err
	}
	msg.Key = []byte(key)
	if err := p.producer.Publish(ctx, msg); err != nil {
		p.logger.Warn("event publish failed",
			logging.String("topic", topic), logging.String("key", key), logging.Err(err))
		return err
	}
	return nil
}
