package ports

import (
	"github.com/cxdexx/codex-passport/internal/domain"
)

// CredentialVerifier checks that a parsed credential's signature proves
// ownership of its public key. Implementations are pure and never touch
// storage; shape validation happens earlier in domain.ParseCredential.
type CredentialVerifier interface {
	// Verify returns nil when the signature is valid for the configured
	// challenge message, domain.ErrInvalidSignature otherwise.
	Verify(cred domain.Credential) error
}

// SnippetHasher produces the short content fingerprint stored on usage rows.
type SnippetHasher interface {
	Fingerprint(snippet string) string
}
