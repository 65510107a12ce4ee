package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

// admitRetryAttempts bounds the transaction retry loop. Retries cover the
// window where a concurrent seed insert rolled back between our upsert and
// the locking read; anything persistent surfaces as ErrLedgerUnavailable.
const admitRetryAttempts = 3

// errAdmitRace marks the seed-then-vanish case that a fresh transaction fixes.
var errAdmitRace = errors.New("passport row vanished during admit")

// TierLimits carries the per-tier usage allowance applied at passport creation.
type TierLimits struct {
	Free int64
	Pro  int64
}

type passportLedger struct {
	db     *gorm.DB
	limits TierLimits
}

// ResolveAndAdmit is the single mutating entry point for admission state.
// The upsert-lock-mutate sequence runs in one transaction so the usage count
// can never pass the limit no matter how many gateways admit concurrently.
func (r *passportLedger) ResolveAndAdmit(ctx context.Context, params ports.AdmitParams) (domain.Admission, error) {
	var lastErr error
	for attempt := 0; attempt < admitRetryAttempts; attempt++ {
		adm, err := r.admitOnce(ctx, params)
		if err == nil {
			return adm, nil
		}
		lastErr = err
		if !isRetryableTxError(err) {
			break
		}
	}
	if errors.Is(lastErr, domain.ErrLedgerCorruption) {
		return domain.Admission{}, lastErr
	}
	if ctx.Err() != nil {
		return domain.Admission{}, ctx.Err()
	}
	return domain.Admission{}, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, lastErr)
}

func (r *passportLedger) admitOnce(ctx context.Context, params ports.AdmitParams) (domain.Admission, error) {
	now := params.RequestedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var adm domain.Admission
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := passportModel{
			PassportID: domain.DerivePassportID(params.PublicKeyHex),
			PublicKey:  params.PublicKeyHex,
			Tier:       string(domain.TierFree),
			UsageCount: 0,
			UsageLimit: r.limits.Free,
			Status:     string(domain.StatusActive),
			CreatedAt:  now,
			LastUsedAt: now,
			Metadata:   "{}",
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "public_key"}},
			DoNothing: true,
		}).Create(&seed)
		if res.Error != nil {
			return res.Error
		}
		created := res.RowsAffected == 1

		var row passportModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("public_key = ?", params.PublicKeyHex).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errAdmitRace
			}
			return err
		}

		if err := checkRowIntegrity(row); err != nil {
			return err
		}

		canProceed := row.Status == string(domain.StatusActive) && row.UsageCount < row.UsageLimit

		updates := map[string]any{"last_used_at": now}
		var usageLogID uuid.UUID
		if canProceed {
			row.UsageCount++
			updates["usage_count"] = row.UsageCount
			if row.UsageCount >= row.UsageLimit {
				row.Status = string(domain.StatusLimitReached)
				updates["status"] = row.Status
			}

			usageLogID = uuid.New()
			logRow := usageLogModel{
				ID:                 usageLogID,
				PassportRef:        row.ID,
				RequestType:        params.RequestType,
				OccurredAt:         now,
				IPAddress:          nullableString(params.IPAddress),
				UserAgent:          params.UserAgent,
				SnippetFingerprint: params.SnippetFingerprint,
				SnippetBytes:       params.SnippetBytes,
			}
			if err := tx.Create(&logRow).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&passportModel{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return err
		}

		if created {
			if err := enqueueOutbox(tx, "passport.created", row.PassportID, now, map[string]any{
				"passport_id": row.PassportID,
				"tier":        row.Tier,
				"usage_limit": row.UsageLimit,
				"created_at":  now.Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}
		if canProceed {
			if err := enqueueOutbox(tx, "usage.recorded", row.PassportID, now, map[string]any{
				"passport_id":  row.PassportID,
				"usage_log_id": usageLogID.String(),
				"request_type": params.RequestType,
				"usage_count":  row.UsageCount,
				"usage_limit":  row.UsageLimit,
				"status":       row.Status,
				"occurred_at":  now.Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}

		adm = domain.Admission{
			PassportID: row.PassportID,
			Tier:       domain.Tier(row.Tier),
			UsageCount: row.UsageCount,
			UsageLimit: row.UsageLimit,
			Status:     domain.PassportStatus(row.Status),
			CanProceed: canProceed,
			Created:    created,
			UsageLogID: usageLogID,
		}
		return nil
	})
	if err != nil {
		return domain.Admission{}, err
	}
	return adm, nil
}

func (r *passportLedger) GetByPassportID(ctx context.Context, passportID string) (domain.Passport, error) {
	var row passportModel
	// Oldest row wins when derived ids collide across distinct keys.
	if err := r.db.WithContext(ctx).
		Where("passport_id = ?", passportID).
		Order("created_at ASC").
		Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Passport{}, domain.ErrNotFound
		}
		return domain.Passport{}, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return toDomainPassport(row), nil
}

func (r *passportLedger) ListUsage(ctx context.Context, passportID string, limit, offset int) ([]domain.UsageLogEntry, error) {
	passport, err := r.GetByPassportID(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []usageLogModel
	if err := r.db.WithContext(ctx).
		Where("passport_ref = ?", passport.ID).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}

	entries := make([]domain.UsageLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toDomainUsageEntry(row))
	}
	return entries, nil
}

func (r *passportLedger) RecordTokenUsage(ctx context.Context, usageLogID uuid.UUID, tokensUsed int64) error {
	if usageLogID == uuid.Nil || tokensUsed < 0 {
		return domain.ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Model(&usageLogModel{}).
		Where("id = ?", usageLogID).
		Update("tokens_used", tokensUsed)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// checkRowIntegrity classifies impossible stored states before they can feed
// an admission decision. Corrupted rows are never auto-repaired.
func checkRowIntegrity(row passportModel) error {
	if row.UsageLimit <= 0 {
		return fmt.Errorf("%w: passport %s has usage limit %d", domain.ErrLedgerCorruption, row.PassportID, row.UsageLimit)
	}
	if row.UsageCount < 0 || row.UsageCount > row.UsageLimit {
		return fmt.Errorf("%w: passport %s usage %d outside limit %d", domain.ErrLedgerCorruption, row.PassportID, row.UsageCount, row.UsageLimit)
	}
	switch domain.PassportStatus(row.Status) {
	case domain.StatusActive, domain.StatusSuspended, domain.StatusLimitReached:
	default:
		return fmt.Errorf("%w: passport %s has unknown status %q", domain.ErrLedgerCorruption, row.PassportID, row.Status)
	}
	return nil
}

func enqueueOutbox(tx *gorm.DB, eventType, partitionKey string, at time.Time, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	rec := ledgerOutboxModel{
		OutboxID:     uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      string(raw),
		CreatedAt:    at,
	}
	return tx.Create(&rec).Error
}

func isRetryableTxError(err error) bool {
	if errors.Is(err, errAdmitRace) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "deadlock detected")
}
