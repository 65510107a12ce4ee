package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// PublicKeyBytes is the raw length of an Ed25519 verifying key.
	PublicKeyBytes = 32
	// SignatureBytes is the raw length of an Ed25519 signature.
	SignatureBytes = 64
	// PassportIDPrefix namespaces derived passport ids.
	PassportIDPrefix = "cdx-"

	passportIDKeyChars = 8
)

// Credential is a decoded proof-of-key-ownership pair. PublicKeyHex is the
// canonical lowercase form the ledger keys on.
type Credential struct {
	PublicKey    []byte
	Signature    []byte
	PublicKeyHex string
}

// ParseCredential decodes and shape-checks the hex credential pair. Any
// decode failure or length mismatch is ErrMalformedCredential; no
// cryptographic verification happens here.
func ParseCredential(publicKeyHex, signatureHex string) (Credential, error) {
	key, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: public key is not valid hex", ErrMalformedCredential)
	}
	if len(key) != PublicKeyBytes {
		return Credential{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrMalformedCredential, PublicKeyBytes, len(key))
	}
	sig, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: signature is not valid hex", ErrMalformedCredential)
	}
	if len(sig) != SignatureBytes {
		return Credential{}, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrMalformedCredential, SignatureBytes, len(sig))
	}
	return Credential{
		PublicKey:    key,
		Signature:    sig,
		PublicKeyHex: hex.EncodeToString(key),
	}, nil
}

// PassportID derives the external id for this credential's key.
func (c Credential) PassportID() string {
	return DerivePassportID(c.PublicKeyHex)
}

// DerivePassportID maps a canonical public key hex string to its passport id:
// the fixed prefix plus the first eight hex characters. Pure; the same key
// always yields the same id.
func DerivePassportID(publicKeyHex string) string {
	normalized := strings.ToLower(strings.TrimSpace(publicKeyHex))
	if len(normalized) < passportIDKeyChars {
		return PassportIDPrefix + normalized
	}
	return PassportIDPrefix + normalized[:passportIDKeyChars]
}

// ValidPassportID reports whether id has the derived shape: the fixed prefix
// followed by exactly eight lowercase hex characters.
func ValidPassportID(id string) bool {
	if len(id) != len(PassportIDPrefix)+passportIDKeyChars {
		return false
	}
	if !strings.HasPrefix(id, PassportIDPrefix) {
		return false
	}
	for _, r := range id[len(PassportIDPrefix):] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
