package application

import (
	"log/slog"
	"time"

	"github.com/cxdexx/codex-passport/internal/ports"
)

// Service is the admission and streaming core of the gateway. It owns the
// check ordering policy; transports only decode requests and render frames.
type Service struct {
	cfg      Config
	ledger   ports.PassportLedger
	limiter  *RateLimiter
	verifier ports.CredentialVerifier
	hasher   ports.SnippetHasher
	backend  ports.GenerationBackend
	logger   *slog.Logger
	nowFn    func() time.Time
}

type Dependencies struct {
	Config   Config
	Ledger   ports.PassportLedger
	Limiter  *RateLimiter
	Verifier ports.CredentialVerifier
	Hasher   ports.SnippetHasher
	Backend  ports.GenerationBackend
	Logger   *slog.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      deps.Config.withDefaults(),
		ledger:   deps.Ledger,
		limiter:  deps.Limiter,
		verifier: deps.Verifier,
		hasher:   deps.Hasher,
		backend:  deps.Backend,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}
