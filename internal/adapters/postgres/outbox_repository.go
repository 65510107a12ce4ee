package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cxdexx/codex-passport/internal/ports"
)

type outboxRepository struct {
	db *gorm.DB
}

// pendingRows scopes a query to rows that still need publishing and are
// not held by a live claim.
func pendingRows(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until < ?", now)
	}
}

// ClaimUnpublished stamps up to limit pending rows with the worker's claim
// token and returns them oldest first. SKIP LOCKED keeps competing workers
// from queueing behind each other, and a crashed worker's rows come back
// once their claim_until passes.
func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	now := time.Now().UTC()
	var rows []ledgerOutboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&ledgerOutboxModel{}).
			Select("outbox_id").
			Scopes(pendingRows(now)).
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

		claim := tx.Model(&ledgerOutboxModel{}).
			Where("outbox_id IN (?)", ids).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			})
		if claim.Error != nil {
			return claim.Error
		}

		return tx.Where("claim_token = ?", claimToken).
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Order("created_at ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	records := make([]ports.OutboxRecord, len(rows))
	for i, row := range rows {
		records[i] = toOutboxRecord(row)
	}
	return records, nil
}

// settle applies a token-guarded terminal update. The guard means a worker
// whose claim expired mid-publish cannot clobber a row another worker has
// since claimed.
func (r *outboxRepository) settle(ctx context.Context, outboxID uuid.UUID, claimToken string, values map[string]any) error {
	values["claim_token"] = nil
	values["claim_until"] = nil
	return r.db.WithContext(ctx).
		Model(&ledgerOutboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(values).Error
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.settle(ctx, outboxID, claimToken, map[string]any{
		"published_at": at,
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.settle(ctx, outboxID, claimToken, map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	})
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.settle(ctx, outboxID, claimToken, map[string]any{
		"retry_count":      gorm.Expr("retry_count + 1"),
		"last_error":       errMsg,
		"last_error_at":    at,
		"dead_lettered_at": at,
	})
}
