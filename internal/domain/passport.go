package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies a passport's service plan. The tier is fixed at creation
// and only sets the usage allowance; upgrade flows live outside this service.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// PassportStatus is the admission state of a passport.
type PassportStatus string

const (
	StatusActive       PassportStatus = "active"
	StatusSuspended    PassportStatus = "suspended"
	StatusLimitReached PassportStatus = "limit_reached"
)

// Passport is the durable identity-and-quota aggregate. One row per public
// key; the externally visible PassportID is derived from the key and never
// changes.
type Passport struct {
	ID         uuid.UUID
	PassportID string
	PublicKey  string
	Tier       Tier
	UsageCount int64
	UsageLimit int64
	Status     PassportStatus
	CreatedAt  time.Time
	LastUsedAt time.Time
	Metadata   map[string]any
}

// CanProceed reports whether an admission attempt may consume quota right now.
func (p Passport) CanProceed() bool {
	return p.Status == StatusActive && p.UsageCount < p.UsageLimit
}

// Remaining is the unconsumed allowance, never negative.
func (p Passport) Remaining() int64 {
	if p.UsageCount >= p.UsageLimit {
		return 0
	}
	return p.UsageLimit - p.UsageCount
}

// UsageLogEntry records one admitted request. Append-only; TokensUsed is
// filled in after the stream completes and stays nil when the backend does
// not report it.
type UsageLogEntry struct {
	ID                 uuid.UUID
	PassportRef        uuid.UUID
	RequestType        string
	TokensUsed         *int64
	OccurredAt         time.Time
	IPAddress          string
	UserAgent          string
	SnippetFingerprint string
	SnippetBytes       int
}

// Admission is the outcome snapshot of one ledger resolution. UsageLogID is
// zero when the request was not admitted.
type Admission struct {
	PassportID string
	Tier       Tier
	UsageCount int64
	UsageLimit int64
	Status     PassportStatus
	CanProceed bool
	Created    bool
	UsageLogID uuid.UUID
}
