package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/domain"
)

func TestGetPassportValidatesID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	for _, id := range []string{"", "cdx-", "cdx-12345", "cdx-1234567Z", "CDX-12345678", "not-a-passport"} {
		if _, err := f.svc.GetPassport(ctx, id); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("id %q: expected ErrInvalidInput, got %v", id, err)
		}
	}
	if got := f.ledger.admitCount(); got != 0 {
		t.Fatalf("introspection must never admit, got %d", got)
	}
}

func TestGetPassportUnknownID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if _, err := f.svc.GetPassport(context.Background(), "cdx-00000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPassportSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	key := testKeyHex(0x21)
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	f.ledger.seed(domain.Passport{
		ID:         uuid.New(),
		PassportID: domain.DerivePassportID(key),
		PublicKey:  key,
		Tier:       domain.TierPro,
		UsageCount: 4940,
		UsageLimit: 5000,
		Status:     domain.StatusActive,
		CreatedAt:  created,
		LastUsedAt: created.Add(48 * time.Hour),
	})

	snap, err := f.svc.GetPassport(ctx, "cdx-21212121")
	if err != nil {
		t.Fatalf("get passport failed: %v", err)
	}
	if snap.PassportID != "cdx-21212121" || snap.Tier != domain.TierPro {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
	if snap.UsageCount != 4940 || snap.UsageLimit != 5000 || snap.Remaining != 60 {
		t.Fatalf("unexpected quota view: %+v", snap)
	}
	if !snap.CreatedAt.Equal(created) || !snap.LastUsedAt.Equal(created.Add(48*time.Hour)) {
		t.Fatalf("timestamps not preserved: %+v", snap)
	}

	if got := f.ledger.admitCount(); got != 0 {
		t.Fatalf("snapshot reads must not consume quota, got %d admits", got)
	}
}

func TestListPassportUsageNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	key := testKeyHex(0x22)
	tokens := int64(9)
	f.stream.tokens = &tokens

	for i := 0; i < 3; i++ {
		in := generateInput(key)
		in.RequestID = "req-" + string(rune('a'+i))
		if err := f.svc.Generate(ctx, in, newCaptureSink()); err != nil {
			t.Fatalf("generate %d failed: %v", i, err)
		}
	}

	items, err := f.svc.ListPassportUsage(ctx, "cdx-22222222", 2, 0)
	if err != nil {
		t.Fatalf("list usage failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected the limit to apply, got %d items", len(items))
	}
	for _, item := range items {
		if item.RequestType != "generate" {
			t.Fatalf("unexpected request type %q", item.RequestType)
		}
		if item.SnippetFingerprint != "fp-14" || item.SnippetBytes != 14 {
			t.Fatalf("snippet metadata missing: %+v", item)
		}
		if item.TokensUsed == nil || *item.TokensUsed != 9 {
			t.Fatalf("expected recorded token usage on the row: %+v", item)
		}
	}
	// Newest first: equal timestamps can happen within one clock tick, but
	// the first row must never be older than the second.
	if items[0].OccurredAt.Before(items[1].OccurredAt) {
		t.Fatalf("usage rows not newest first: %v then %v", items[0].OccurredAt, items[1].OccurredAt)
	}

	rest, err := f.svc.ListPassportUsage(ctx, "cdx-22222222", 2, 2)
	if err != nil {
		t.Fatalf("offset page failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected one row on the second page, got %d", len(rest))
	}
}

func TestListPassportUsageValidatesID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if _, err := f.svc.ListPassportUsage(context.Background(), "bogus", 10, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.ListPassportUsage(context.Background(), "cdx-00000000", 10, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown passport, got %v", err)
	}
}

func TestVerifyCredentialNeverTouchesLedger(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	key := testKeyHex(0x23)

	passportID, err := f.svc.VerifyCredential(ctx, key, testSigHex())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if passportID != "cdx-23232323" {
		t.Fatalf("unexpected passport id %q", passportID)
	}
	if got := f.ledger.admitCount(); got != 0 {
		t.Fatalf("verification must not touch the ledger, got %d admits", got)
	}
	if got := f.counters.callCount(); got != 0 {
		t.Fatalf("verification must not consume rate windows, got %d calls", got)
	}

	f.verifier.err = domain.ErrInvalidSignature
	if _, err := f.svc.VerifyCredential(ctx, key, testSigHex()); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := f.svc.VerifyCredential(ctx, "zz", testSigHex()); !errors.Is(err, domain.ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential, got %v", err)
	}
}
