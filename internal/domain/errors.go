package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput marks request payloads that fail shape validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMalformedCredential covers credentials that cannot even be decoded:
	// non-hex input, wrong key or signature length. Distinct from a failed
	// verification so callers can tell client bugs from forgery attempts.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrInvalidSignature means the credential decoded cleanly but the
	// signature does not verify against the public key.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrRateLimited is the base sentinel for both limiter scopes; the typed
	// RateLimitError carries which scope tripped.
	ErrRateLimited       = errors.New("rate limited")
	ErrPassportSuspended = errors.New("passport suspended")
	// ErrUsageLimitReached signals quota exhaustion on the passport itself,
	// as opposed to the windowed traffic limits.
	ErrUsageLimitReached = errors.New("usage limit reached")
	// ErrLedgerUnavailable covers transient storage failures: unreachable
	// database, exhausted transaction retries. Safe to retry later.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerCorruption marks impossible stored states (count above limit,
	// undecodable key). Never retried; requires operator attention.
	ErrLedgerCorruption = errors.New("ledger corruption")
	ErrBackendFailure   = errors.New("generation backend failure")
)

// RateLimitScope identifies which traffic ceiling rejected the request.
type RateLimitScope string

const (
	RateLimitScopeIP     RateLimitScope = "ip"
	RateLimitScopeGlobal RateLimitScope = "global"
)

// RateLimitError wraps ErrRateLimited with the scope that tripped so the
// transport can report it without leaking counter internals.
type RateLimitError struct {
	Scope RateLimitScope
	Limit int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s scope (limit %d)", e.Scope, e.Limit)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// NewRateLimitError builds the typed rejection for a scope.
func NewRateLimitError(scope RateLimitScope, limit int64) error {
	return &RateLimitError{Scope: scope, Limit: limit}
}
