package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cxdexx/codex-passport/internal/domain"
)

// GetPassport returns the public snapshot for one passport id. Read-only:
// no admission, no quota movement.
func (s *Service) GetPassport(ctx context.Context, passportID string) (PassportSnapshot, error) {
	if !domain.ValidPassportID(passportID) {
		return PassportSnapshot{}, fmt.Errorf("%w: malformed passport id", domain.ErrInvalidInput)
	}
	p, err := s.ledger.GetByPassportID(ctx, passportID)
	if err != nil {
		return PassportSnapshot{}, err
	}
	return toPassportSnapshot(p), nil
}

// ListPassportUsage returns the usage history for one passport, newest
// first. limit and offset are clamped by the ledger.
func (s *Service) ListPassportUsage(ctx context.Context, passportID string, limit, offset int) ([]UsageItem, error) {
	if !domain.ValidPassportID(passportID) {
		return nil, fmt.Errorf("%w: malformed passport id", domain.ErrInvalidInput)
	}
	entries, err := s.ledger.ListUsage(ctx, passportID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]UsageItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toUsageItem(e))
	}
	s.logger.Debug("usage listed",
		slog.String("module", "application"),
		slog.String("operation", "list_usage"),
		slog.String("passport_id", passportID),
		slog.Int("rows", len(items)))
	return items, nil
}

// VerifyCredential checks a credential pair without touching the ledger or
// any counter. Shape or signature failures return the parse/verify error;
// success returns the derived passport id. Used by the internal gRPC
// surface.
func (s *Service) VerifyCredential(ctx context.Context, publicKeyHex, signatureHex string) (string, error) {
	cred, err := domain.ParseCredential(publicKeyHex, signatureHex)
	if err != nil {
		return "", err
	}
	if err := s.verifier.Verify(cred); err != nil {
		return "", err
	}
	return cred.PassportID(), nil
}
