// Package consumer applies entry events read from Kafka to the engine and
// reports the outcome of each one on the index-complete topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/resilience"
)

// Indexer is the part of *indexer.Engine the consumer drives.
type Indexer interface {
	AddEntry(ctx context.Context, doc indexer.Document) error
	DeleteEntry(ctx context.Context, id string) error
}

// Notifier is satisfied by *kafka.Producer.
type Notifier interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// IndexConsumer runs the Kafka consume loop.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start consumes until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a handler that applies each EntryEvent to engine,
// retrying transient failures with retry. Undecodable and invalid events
// are dropped and reported as failed. An event that still fails with a
// transient error is returned to the consumer uncommitted. notify may be
// nil.
func HandleMessage(engine Indexer, notify Notifier, retry resilience.RetryConfig) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	retry.Retryable = apperrors.IsRetryable
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.EntryEvent](value)
		if err != nil {
			logger.Error("dropping undecodable entry event", "key", string(key), "error", err)
			return nil
		}
		log := logger.With("doc_id", event.ID, "op", event.Op)
		if err := validator.ValidateEvent(&event); err != nil {
			log.Error("dropping invalid entry event", "error", err)
			report(ctx, notify, log, event, err)
			return nil
		}

		err = resilience.Retry(ctx, "apply entry event", retry, func() error {
			return apply(ctx, engine, event)
		})
		if err != nil {
			if apperrors.IsRetryable(err) {
				return fmt.Errorf("applying %s of %q: %w", event.Op, event.ID, err)
			}
			log.Error("entry event failed", "error", err)
			report(ctx, notify, log, event, err)
			return nil
		}
		log.Info("entry event applied")
		report(ctx, notify, log, event, nil)
		return nil
	}
}

func apply(ctx context.Context, engine Indexer, ev ingestion.EntryEvent) error {
	switch ev.Op {
	case ingestion.OpDelete:
		err := engine.DeleteEntry(ctx, ev.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	default:
		doc := indexer.Document{
			ID:    ev.ID,
			Title: ev.Title,
			Body:  ev.Body,
			Tags:  ev.Tags,
			Hash:  ev.Hash,
		}
		// Without an explicit mtime the emit time stands in, so a
		// redelivered event writes the same record again.
		switch {
		case ev.MTime != nil:
			doc.ModifiedAt = *ev.MTime
		case !ev.EmittedAt.IsZero():
			doc.ModifiedAt = ev.EmittedAt
		}
		return engine.AddEntry(ctx, doc)
	}
}

func report(ctx context.Context, notify Notifier, log *slog.Logger, ev ingestion.EntryEvent, cause error) {
	if notify == nil {
		return
	}
	out := ingestion.IndexedEvent{
		ID:        ev.ID,
		Op:        ev.Op,
		Status:    ingestion.StatusIndexed,
		IndexedAt: time.Now().UTC(),
	}
	switch {
	case cause != nil:
		out.Status = ingestion.StatusFailed
		out.Error = cause.Error()
	case ev.Op == ingestion.OpDelete:
		out.Status = ingestion.StatusDeleted
	}
	if err := notify.Publish(ctx, kafka.Event{Key: ev.ID, Value: out}); err != nil {
		log.Warn("failed to publish index-complete event", "error", err)
	}
}
