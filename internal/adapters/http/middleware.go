package http

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cxdexx/codex-passport/internal/domain"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// requestIDMiddleware attaches an id to every request: the caller's
// X-Request-Id when present, a fresh uuid otherwise. The id is echoed on
// the response so streams can be correlated from either side.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := cmp.Or(r.Header.Get("X-Request-Id"), uuid.NewString())
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			httpLogger().ErrorContext(r.Context(), "recovered from handler panic",
				"operation", "http_panic_recovery",
				"outcome", "failure",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestIDFromContext(r.Context()),
				"panic", rec,
			)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// responseTap observes the status and byte count flowing through a
// ResponseWriter without changing them.
type responseTap struct {
	http.ResponseWriter
	status  int
	written int
}

func (t *responseTap) WriteHeader(statusCode int) {
	t.status = statusCode
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *responseTap) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(p)
	t.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer, which the streaming and WebSocket handlers need.
func (t *responseTap) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tap := &responseTap{ResponseWriter: w}
		next.ServeHTTP(tap, r)

		status := cmp.Or(tap.status, http.StatusOK)
		outcome := "success"
		level := slog.LevelInfo
		switch {
		case status >= 500:
			outcome, level = "failure", slog.LevelError
		case status >= 400:
			outcome, level = "failure", slog.LevelWarn
		}

		httpLogger().Log(r.Context(), level, "http request completed",
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", status,
			"bytes", tap.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrMalformedCredential):
		return http.StatusBadRequest, "MALFORMED_CREDENTIAL", err.Error()
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed"
	case errors.Is(err, domain.ErrUsageLimitReached):
		return http.StatusTooManyRequests, "USAGE_LIMIT_REACHED", "usage limit reached"
	case errors.Is(err, domain.ErrRateLimited):
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			return http.StatusTooManyRequests, "RATE_LIMITED", fmt.Sprintf("too many requests (%s)", rl.Scope)
		}
		return http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"
	case errors.Is(err, domain.ErrPassportSuspended):
		return http.StatusForbidden, "PASSPORT_SUSPENDED", "passport suspended"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "passport ledger unavailable"
	case errors.Is(err, domain.ErrLedgerCorruption):
		return http.StatusInternalServerError, "LEDGER_CORRUPTION", "passport ledger inconsistent"
	case errors.Is(err, domain.ErrBackendFailure):
		return http.StatusBadGateway, "BACKEND_FAILURE", "generation backend unavailable"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
