package http

import (
	"context"
	"log/slog"
)

const serviceName = "codex-passport-gateway"

// httpLogger resolves the default logger lazily so it picks up the handler
// bootstrap installs, not the one present at package init.
func httpLogger() *slog.Logger {
	return slog.Default().With("service", serviceName, "module", "http", "layer", "adapter")
}

// logRequestFailure records a rejected or failed request. Server-side
// failures log at error level; client mistakes stay at warn so alerting
// keys off genuine 5xx volume.
func logRequestFailure(ctx context.Context, operation string, status int, code, message string, cause error) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", status,
		"error_code", code,
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if cause != nil {
		fields = append(fields, "error", cause.Error())
	}
	httpLogger().Log(ctx, level, "http operation failed", fields...)
}
