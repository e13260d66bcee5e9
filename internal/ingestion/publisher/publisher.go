// Package publisher queues entry writes on Kafka instead of applying them
// in the request. Events are keyed by entry ID so the consumer applies the
// changes to one entry in the order they were accepted.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/kafka"
)

// StatusQueued is reported for writes accepted onto the queue.
const StatusQueued = "QUEUED"

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	events EventPublisher
	now    func() time.Time
	logger *slog.Logger
}

func New(events EventPublisher) *Publisher {
	return &Publisher{
		events: events,
		now:    time.Now,
		logger: slog.Default().With("component", "publisher"),
	}
}

// Upsert queues an upsert of entry id.
func (p *Publisher) Upsert(ctx context.Context, id string, req *ingestion.EntryRequest) (*ingestion.EntryResponse, error) {
	return p.publish(ctx, ingestion.EntryEvent{
		Op:    ingestion.OpUpsert,
		ID:    id,
		Title: req.Title,
		Body:  req.Body,
		Tags:  req.Tags,
		Hash:  req.Hash,
		MTime: req.MTime,
	})
}

// Delete queues the removal of entry id.
func (p *Publisher) Delete(ctx context.Context, id string) (*ingestion.EntryResponse, error) {
	return p.publish(ctx, ingestion.EntryEvent{Op: ingestion.OpDelete, ID: id})
}

func (p *Publisher) publish(ctx context.Context, ev ingestion.EntryEvent) (*ingestion.EntryResponse, error) {
	ev.EmittedAt = p.now().UTC()
	if err := p.events.Publish(ctx, kafka.Event{Key: ev.ID, Value: ev}); err != nil {
		return nil, fmt.Errorf("queueing %s of entry %q: %w", ev.Op, ev.ID, err)
	}
	p.logger.Debug("entry event queued", "doc_id", ev.ID, "op", ev.Op)
	return &ingestion.EntryResponse{ID: ev.ID, Status: StatusQueued}, nil
}
