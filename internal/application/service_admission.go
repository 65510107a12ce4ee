package application

import (
	"context"
	"log/slog"

	"github.com/cxdexx/codex-passport/internal/domain"
	"github.com/cxdexx/codex-passport/internal/ports"
)

// Authorize runs the full admission pipeline for one request: rate limit
// windows, credential verification, then the atomic ledger decision.
//
// Ordering is deliberate. The per-client window runs before any crypto so
// abusive sources cannot burn signature checks. Credential failures return
// before the ledger is touched, so unverified keys never create or mutate
// passports. The global window runs last before the ledger so only
// verified traffic consumes the shared budget.
func (s *Service) Authorize(ctx context.Context, in AuthorizeInput) (domain.Admission, error) {
	log := s.logger.With(
		slog.String("module", "application"),
		slog.String("operation", "authorize"),
	)

	if err := s.limiter.CheckIP(ctx, in.IPAddress); err != nil {
		log.Info("admission rejected", slog.String("outcome", "rate_limited_ip"))
		return domain.Admission{}, err
	}

	cred, err := domain.ParseCredential(in.PublicKeyHex, in.SignatureHex)
	if err != nil {
		log.Info("admission rejected", slog.String("outcome", "malformed_credential"))
		return domain.Admission{}, err
	}
	if err := s.verifier.Verify(cred); err != nil {
		log.Info("admission rejected",
			slog.String("outcome", "invalid_signature"),
			slog.String("passport_id", cred.PassportID()))
		return domain.Admission{}, err
	}

	if err := s.limiter.CheckGlobal(ctx); err != nil {
		log.Info("admission rejected", slog.String("outcome", "rate_limited_global"))
		return domain.Admission{}, err
	}

	adm, err := s.ledger.ResolveAndAdmit(ctx, ports.AdmitParams{
		PublicKeyHex:       cred.PublicKeyHex,
		RequestType:        s.cfg.RequestType,
		IPAddress:          in.IPAddress,
		UserAgent:          in.UserAgent,
		SnippetFingerprint: in.SnippetFingerprint,
		SnippetBytes:       in.SnippetBytes,
		RequestedAt:        s.nowFn(),
	})
	if err != nil {
		log.Error("ledger admission failed",
			slog.String("outcome", "ledger_error"),
			slog.String("passport_id", cred.PassportID()),
			slog.String("error", err.Error()))
		return domain.Admission{}, err
	}

	if !adm.CanProceed {
		outcome := "usage_limit_reached"
		reason := domain.ErrUsageLimitReached
		if adm.Status == domain.StatusSuspended {
			outcome = "passport_suspended"
			reason = domain.ErrPassportSuspended
		}
		log.Info("admission denied",
			slog.String("outcome", outcome),
			slog.String("passport_id", adm.PassportID),
			slog.Int64("usage_count", adm.UsageCount),
			slog.Int64("usage_limit", adm.UsageLimit))
		return adm, reason
	}

	log.Info("admission granted",
		slog.String("outcome", "admitted"),
		slog.String("passport_id", adm.PassportID),
		slog.Bool("created", adm.Created),
		slog.Int64("usage_count", adm.UsageCount),
		slog.Int64("usage_limit", adm.UsageLimit))
	return adm, nil
}
