package ports

import (
	"context"

	"github.com/cxdexx/codex-passport/internal/domain"
)

// FrameSink consumes the ordered frames of one generation stream.
// Implementations (NDJSON response writer, WebSocket connection) must write
// and flush each frame before returning so clients observe chunks as they
// arrive. A Send error aborts the stream.
type FrameSink interface {
	Send(ctx context.Context, frame domain.Frame) error
}
