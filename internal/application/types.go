package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/domain"
)

// Config tunes the admission pipeline and stream supervision.
type Config struct {
	// RequestType is stamped onto usage log rows.
	RequestType string
	// MaxSnippetBytes bounds accepted payloads before any crypto or storage work.
	MaxSnippetBytes int
	// StreamIdleTimeout is the longest allowed gap between backend chunks.
	StreamIdleTimeout time.Duration
	// StreamMaxDuration caps one generation end to end.
	StreamMaxDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestType == "" {
		c.RequestType = "generate"
	}
	if c.MaxSnippetBytes <= 0 {
		c.MaxSnippetBytes = 64 * 1024
	}
	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = 30 * time.Second
	}
	if c.StreamMaxDuration <= 0 {
		c.StreamMaxDuration = 5 * time.Minute
	}
	return c
}

// GenerateInput is one decoded generation request plus its network context.
type GenerateInput struct {
	CodeSnippet       string `json:"codeSnippet"`
	PassportSignature string `json:"passportSignature"`
	PassportPublicKey string `json:"passportPublicKey"`

	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
	RequestID string `json:"-"`
}

// AuthorizeInput carries the admission-relevant slice of a request.
type AuthorizeInput struct {
	PublicKeyHex       string
	SignatureHex       string
	IPAddress          string
	UserAgent          string
	SnippetFingerprint string
	SnippetBytes       int
}

// PassportSnapshot is the public introspection view of a passport.
type PassportSnapshot struct {
	PassportID string                `json:"passportId"`
	Tier       domain.Tier           `json:"tier"`
	UsageCount int64                 `json:"usageCount"`
	UsageLimit int64                 `json:"usageLimit"`
	Remaining  int64                 `json:"remaining"`
	Status     domain.PassportStatus `json:"status"`
	CreatedAt  time.Time             `json:"createdAt"`
	LastUsedAt time.Time             `json:"lastUsedAt"`
}

// UsageItem is one usage log row in API form. Network identifiers stay
// internal; the public history exposes what, when and how much.
type UsageItem struct {
	ID                 uuid.UUID `json:"id"`
	RequestType        string    `json:"requestType"`
	TokensUsed         *int64    `json:"tokensUsed,omitempty"`
	OccurredAt         time.Time `json:"occurredAt"`
	SnippetFingerprint string    `json:"snippetFingerprint,omitempty"`
	SnippetBytes       int       `json:"snippetBytes"`
}

func toPassportSnapshot(p domain.Passport) PassportSnapshot {
	return PassportSnapshot{
		PassportID: p.PassportID,
		Tier:       p.Tier,
		UsageCount: p.UsageCount,
		UsageLimit: p.UsageLimit,
		Remaining:  p.Remaining(),
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		LastUsedAt: p.LastUsedAt,
	}
}

func toUsageItem(e domain.UsageLogEntry) UsageItem {
	return UsageItem{
		ID:                 e.ID,
		RequestType:        e.RequestType,
		TokensUsed:         e.TokensUsed,
		OccurredAt:         e.OccurredAt,
		SnippetFingerprint: e.SnippetFingerprint,
		SnippetBytes:       e.SnippetBytes,
	}
}
