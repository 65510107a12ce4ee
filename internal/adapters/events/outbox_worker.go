package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/ports"
)

// OutboxWorker drains unpublished ledger events to the publisher.
// Separating transactional writes from broker delivery means an admission
// never waits on Kafka.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
}

// NewOutboxWorker constructs the publish loop. Zero values fall back to
// the shipped defaults.
func NewOutboxWorker(
	logger *slog.Logger,
	outbox ports.OutboxRepository,
	publisher ports.EventPublisher,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	maxRetries int,
) *OutboxWorker {
	w := &OutboxWorker{
		logger:     logger,
		outbox:     outbox,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
	}
	if w.interval <= 0 {
		w.interval = 2 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.claimTTL <= 0 {
		w.claimTTL = 30 * time.Second
	}
	if w.maxRetries <= 0 {
		w.maxRetries = 5
	}
	return w
}

func (w *OutboxWorker) log() *slog.Logger {
	return w.logger.With(
		"module", "events.outbox_worker",
		"layer", "adapter",
	)
}

// Run drains one batch immediately, then one per tick, until the context
// ends.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil {
			w.log().ErrorContext(ctx, "outbox iteration failed",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOnce claims a batch under a fresh token and settles every row
// with that same token.
func (w *OutboxWorker) processOnce(ctx context.Context) error {
	token := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, token, time.Now().UTC().Add(w.claimTTL))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var published, retried, deadLettered int
	now := time.Now().UTC()
	for _, rec := range records {
		switch w.deliver(ctx, rec, token, now) {
		case deliveryPublished:
			published++
		case deliveryRetryScheduled:
			retried++
		case deliveryDeadLettered:
			deadLettered++
		}
	}

	w.log().InfoContext(ctx, "outbox batch processed",
		"operation", "outbox_process_once",
		"outcome", "success",
		"batch_size", len(records),
		"published_count", published,
		"failed_count", retried,
		"dead_lettered_count", deadLettered,
	)
	return nil
}

type deliveryOutcome int

const (
	deliveryPublished deliveryOutcome = iota
	deliveryRetryScheduled
	deliveryDeadLettered
)

// deliver publishes one claimed record and settles it. Settlement errors
// are swallowed: an unsettled row comes back after its claim TTL, and the
// downstream consumers tolerate the duplicate.
func (w *OutboxWorker) deliver(ctx context.Context, rec ports.OutboxRecord, token string, now time.Time) deliveryOutcome {
	if rec.RetryCount >= w.maxRetries {
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, token, "retry threshold reached before publish", now)
		return deliveryDeadLettered
	}

	err := w.publisher.Publish(ctx, rec.EventType, rec.PartitionKey, rec.Payload)
	if err == nil {
		_ = w.outbox.MarkPublished(ctx, rec.OutboxID, token, now)
		return deliveryPublished
	}

	retries := rec.RetryCount + 1
	fields := []any{
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"payload_bytes", len(rec.Payload),
		"retry_count", retries,
		"error", err,
	}
	if retries >= w.maxRetries {
		w.log().ErrorContext(ctx, "outbox message moved to dlq", fields...)
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, token, err.Error(), now)
		return deliveryDeadLettered
	}

	w.log().WarnContext(ctx, "outbox publish failed; retry scheduled", fields...)
	_ = w.outbox.MarkFailed(ctx, rec.OutboxID, token, err.Error(), now)
	return deliveryRetryScheduled
}
