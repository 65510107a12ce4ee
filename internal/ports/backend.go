package ports

import (
	"context"
)

// GenerationRequest carries the admitted request to the completion backend.
type GenerationRequest struct {
	Snippet    string
	PassportID string
	RequestID  string
}

// Chunk is one completion fragment in backend order.
type Chunk struct {
	Content string
}

// CompletionStream delivers fragments from one backend generation.
// Recv returns io.EOF on clean end of stream; Close releases the backend
// connection and must be safe to call more than once, including concurrently
// with a blocked Recv.
type CompletionStream interface {
	Recv(ctx context.Context) (Chunk, error)
	// TokensUsed reports the total the backend billed for the finished
	// stream. ok is false when the backend did not report usage.
	TokensUsed() (total int64, ok bool)
	Close() error
}

// GenerationBackend opens completion streams against the upstream service.
type GenerationBackend interface {
	Open(ctx context.Context, req GenerationRequest) (CompletionStream, error)
}
