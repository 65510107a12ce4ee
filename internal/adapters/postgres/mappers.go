package postgres

import (
	"encoding/json"
	"strings"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

func toDomainPassport(row passportModel) domain.Passport {
	var metadata map[string]any
	if row.Metadata != "" {
		_ = json.Unmarshal([]byte(row.Metadata), &metadata)
	}
	return domain.Passport{
		ID:         row.ID,
		PassportID: row.PassportID,
		PublicKey:  row.PublicKey,
		Tier:       domain.Tier(row.Tier),
		UsageCount: row.UsageCount,
		UsageLimit: row.UsageLimit,
		Status:     domain.PassportStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		LastUsedAt: row.LastUsedAt,
		Metadata:   metadata,
	}
}

func toDomainUsageEntry(row usageLogModel) domain.UsageLogEntry {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	return domain.UsageLogEntry{
		ID:                 row.ID,
		PassportRef:        row.PassportRef,
		RequestType:        row.RequestType,
		TokensUsed:         row.TokensUsed,
		OccurredAt:         row.OccurredAt,
		IPAddress:          ip,
		UserAgent:          row.UserAgent,
		SnippetFingerprint: row.SnippetFingerprint,
		SnippetBytes:       row.SnippetBytes,
	}
}

func toOutboxRecord(row ledgerOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
