package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/domain"
)

// AdmitParams captures the inputs of one atomic resolve-and-admit attempt.
// Request metadata travels with the admission so the usage log row can be
// written inside the same transaction.
type AdmitParams struct {
	PublicKeyHex       string
	RequestType        string
	IPAddress          string
	UserAgent          string
	SnippetFingerprint string
	SnippetBytes       int
	RequestedAt        time.Time
}

// PassportLedger is the durable passport store. ResolveAndAdmit is the only
// mutating entry point for admission state: lookup-or-create, quota check,
// increment, usage logging and the status transition happen in one
// transaction so concurrent callers can never overshoot the limit.
type PassportLedger interface {
	ResolveAndAdmit(ctx context.Context, params AdmitParams) (domain.Admission, error)
	GetByPassportID(ctx context.Context, passportID string) (domain.Passport, error)
	ListUsage(ctx context.Context, passportID string, limit, offset int) ([]domain.UsageLogEntry, error)
	// RecordTokenUsage fills in the token count on an existing usage log row
	// after the stream completed. Best-effort bookkeeping, not admission state.
	RecordTokenUsage(ctx context.Context, usageLogID uuid.UUID, tokensUsed int64) error
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for ledger events.
// Rows are enqueued by the ledger inside its transactions; the worker claims,
// publishes and settles them.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
