package security

import (
	"crypto/ed25519"

	"github.com/cxdexx/codex-passport/internal/domain"
)

// DefaultChallenge is the fixed message every credential signs. Signatures
// prove possession of the key, not freshness of the request: a captured
// credential pair replays until the key rotates. That is the protocol as
// shipped; changing it means changing the client wire contract.
const DefaultChallenge = "codex-passport:v1"

// Ed25519Verifier checks credential signatures against a fixed challenge.
// Pure computation, no I/O; ed25519.Verify itself is constant-time.
type Ed25519Verifier struct {
	challenge []byte
}

// NewEd25519Verifier creates a verifier for the given challenge message,
// falling back to DefaultChallenge when empty.
func NewEd25519Verifier(challenge string) *Ed25519Verifier {
	if challenge == "" {
		challenge = DefaultChallenge
	}
	return &Ed25519Verifier{challenge: []byte(challenge)}
}

func (v *Ed25519Verifier) Verify(cred domain.Credential) error {
	if len(cred.PublicKey) != ed25519.PublicKeySize || len(cred.Signature) != ed25519.SignatureSize {
		return domain.ErrMalformedCredential
	}
	if !ed25519.Verify(ed25519.PublicKey(cred.PublicKey), v.challenge, cred.Signature) {
		return domain.ErrInvalidSignature
	}
	return nil
}
