package postgres

import (
	"time"

	"github.com/google/uuid"
)

type passportModel struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PassportID string    `gorm:"column:passport_id"`
	PublicKey  string    `gorm:"column:public_key"`
	Tier       string    `gorm:"column:tier"`
	UsageCount int64     `gorm:"column:usage_count"`
	UsageLimit int64     `gorm:"column:usage_limit"`
	Status     string    `gorm:"column:status"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	LastUsedAt time.Time `gorm:"column:last_used_at"`
	Metadata   string    `gorm:"column:metadata;type:jsonb"`
}

func (passportModel) TableName() string { return "passports" }

type usageLogModel struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PassportRef        uuid.UUID `gorm:"column:passport_ref"`
	RequestType        string    `gorm:"column:request_type"`
	TokensUsed         *int64    `gorm:"column:tokens_used"`
	OccurredAt         time.Time `gorm:"column:occurred_at"`
	IPAddress          *string   `gorm:"column:ip_address"`
	UserAgent          string    `gorm:"column:user_agent"`
	SnippetFingerprint string    `gorm:"column:snippet_fingerprint"`
	SnippetBytes       int       `gorm:"column:snippet_bytes"`
}

func (usageLogModel) TableName() string { return "usage_log" }

type ledgerOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (ledgerOutboxModel) TableName() string { return "passport_outbox" }
