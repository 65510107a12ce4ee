package http

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cxdexx/codex-passport/internal/application"
	"github.com/cxdexx/codex-passport/internal/domain"
)

const (
	wsRequestTimeout = 10 * time.Second
	wsWriteTimeout   = 5 * time.Second
	wsReadLimit      = maxRequestBodyBytes
)

// generateWS serves GET /v1/generate/ws. The client sends the generation
// request as the first JSON message and receives the same frames the NDJSON
// endpoint streams. Rejections map onto close codes instead of an envelope.
func (h *Handler) generateWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.wsOrigins) > 0 {
		opts.OriginPatterns = h.wsOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		// Accept has already written the handshake failure.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readCtx, cancelRead := context.WithTimeout(ctx, wsRequestTimeout)
	var in application.GenerateInput
	err = wsjson.Read(readCtx, conn, &in)
	cancelRead()
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected one generation request")
		return
	}
	in.IPAddress = clientAddr(r)
	in.UserAgent = r.UserAgent()
	in.RequestID = requestIDFromContext(r.Context())

	// The client sends nothing after the request. The read pump surfaces
	// disconnects and close frames as a context cancellation.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := h.service.Generate(ctx, in, &wsSink{conn: conn}); err != nil {
		status, code, msg := mapDomainError(err)
		logRequestFailure(r.Context(), "generate_ws", status, code, msg, err)
		_ = conn.Close(wsCloseCode(status), code)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// wsCloseCode picks the close code for a pre-stream rejection from the
// HTTP status the same error would have mapped to.
func wsCloseCode(httpStatus int) websocket.StatusCode {
	switch httpStatus {
	case http.StatusBadRequest:
		return websocket.StatusUnsupportedData
	case http.StatusUnauthorized, http.StatusForbidden:
		return websocket.StatusPolicyViolation
	case http.StatusTooManyRequests:
		return websocket.StatusTryAgainLater
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return websocket.StatusBadGateway
	default:
		return websocket.StatusInternalError
	}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, frame domain.Frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, s.conn, frame)
}
